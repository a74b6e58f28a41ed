// Command plan prints the coverage waypoints for a boundary without driving
// anything. The boundary is read as the JSON body accepted by
// POST /api/explore; the plan is written as JSON to stdout and optionally
// rendered to PNG or HTML.
//
//	plan -in field.json -png field.png
//	plan -remote http://robot:8080 < field.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/banshee-data/coverage.explorer/internal/api"
	"github.com/banshee-data/coverage.explorer/internal/config"
	"github.com/banshee-data/coverage.explorer/internal/coverage"
	"github.com/banshee-data/coverage.explorer/internal/httputil"
	"github.com/banshee-data/coverage.explorer/internal/render"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "plan: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	in := fs.String("in", "-", "Boundary JSON file, - for stdin")
	configPath := fs.String("config", "", "Explorer config file (empty for built-in defaults)")
	pngPath := fs.String("png", "", "Write a PNG rendering to this path")
	htmlPath := fs.String("html", "", "Write an interactive HTML chart to this path")
	title := fs.String("title", "", "Chart title")
	remote := fs.String("remote", "", "Plan on a running explorer at this URL instead of locally")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req, err := readRequest(*in, stdin)
	if err != nil {
		return err
	}

	var resp api.PlanResponse
	if *remote != "" {
		if *pngPath != "" || *htmlPath != "" {
			return fmt.Errorf("-png and -html need a local plan; drop -remote")
		}
		resp, err = api.NewClient(*remote, httputil.NewStandardClient(nil)).Plan(req)
		if err != nil {
			return err
		}
	} else {
		plan, err := localPlan(req, *configPath)
		if err != nil {
			return err
		}
		opts := render.Options{Title: *title}
		if *pngPath != "" {
			if err := render.SavePlanPNG(*pngPath, plan, opts); err != nil {
				return err
			}
		}
		if *htmlPath != "" {
			if err := writeHTML(*htmlPath, plan, opts); err != nil {
				return err
			}
		}
		resp = api.NewPlanResponse(plan)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func readRequest(path string, stdin io.Reader) (api.TaskRequest, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return api.TaskRequest{}, err
		}
		defer f.Close()
		r = f
	}
	var req api.TaskRequest
	dec := json.NewDecoder(io.LimitReader(r, httputil.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return api.TaskRequest{}, fmt.Errorf("read boundary: %w", err)
	}
	return req, nil
}

func localPlan(req api.TaskRequest, configPath string) (coverage.Plan, error) {
	cfg := config.DefaultExplorerConfig()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return coverage.Plan{}, err
		}
	}
	task, err := req.Task()
	if err != nil {
		return coverage.Plan{}, err
	}
	if task.Boundary.Frame == "" {
		task.Boundary.Frame = cfg.GetGlobalFrame()
	}
	return coverage.NewPlan(task.Boundary, coverage.Params{
		GoalSpacing:  cfg.GetGoalSpacing(),
		RowWidth:     cfg.GetRowWidth(),
		Padding:      cfg.GetPadding(),
		MaxWaypoints: cfg.GetMaxWaypoints(),
	})
}

func writeHTML(path string, plan coverage.Plan, opts render.Options) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render.PlanHTML(f, plan, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
