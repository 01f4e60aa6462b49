package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/devicelab-dev/webview-bridge/pkg/config"
	"github.com/devicelab-dev/webview-bridge/pkg/core"
	"github.com/devicelab-dev/webview-bridge/pkg/webbridge"
)

type pointBody struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func registerSessionHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Liveness check", Tags: []string{"Session"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	type pointInput struct {
		Body pointBody
	}
	type pointOutput struct {
		Body pointBody
	}
	huma.Register(api, huma.Operation{OperationID: "translate-coordinates", Method: http.MethodPost, Path: "/api/v1/coordinates/translate", Summary: "Translate a web point to native screen coordinates", Tags: []string{"Coordinates"}},
		func(ctx context.Context, input *pointInput) (*pointOutput, error) {
			p, err := svc.TranslateWebCoords(ctx, core.Point{X: input.Body.X, Y: input.Body.Y})
			if err != nil {
				return nil, mapErr(err)
			}
			return &pointOutput{Body: pointBody{X: p.X, Y: p.Y}}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "tap-coordinates", Method: http.MethodPost, Path: "/api/v1/coordinates/tap", Summary: "Tap natively at a web point", Tags: []string{"Coordinates"}},
		func(ctx context.Context, input *pointInput) (*okOutput, error) {
			if err := svc.ClickWebCoords(ctx, core.Point{X: input.Body.X, Y: input.Body.Y}); err != nil {
				return nil, mapErr(err)
			}
			return ok(), nil
		})

	type calibrateInput struct {
		Body struct {
			URL string `json:"url" doc:"Page that reports tap positions in its title"`
		}
	}
	type calibrateOutput struct {
		Body webbridge.CalibrationData
	}
	huma.Register(api, huma.Operation{OperationID: "calibrate", Method: http.MethodPost, Path: "/api/v1/coordinates/calibrate", Summary: "Measure the web-to-native mapping with calibration taps", Tags: []string{"Coordinates"}},
		func(ctx context.Context, input *calibrateInput) (*calibrateOutput, error) {
			data, err := svc.Calibrate(ctx, input.Body.URL)
			if err != nil {
				return nil, mapErr(err)
			}
			return &calibrateOutput{Body: *data}, nil
		})

	type settingsOutput struct {
		Body config.SettingsValues
	}
	huma.Register(api, huma.Operation{OperationID: "get-settings", Method: http.MethodGet, Path: "/api/v1/settings", Summary: "Get runtime settings", Tags: []string{"Session"}},
		func(ctx context.Context, input *struct{}) (*settingsOutput, error) {
			return &settingsOutput{Body: svc.Settings().Get()}, nil
		})

	type updateSettingsInput struct {
		Body map[string]any
	}
	huma.Register(api, huma.Operation{OperationID: "update-settings", Method: http.MethodPost, Path: "/api/v1/settings", Summary: "Update runtime settings", Tags: []string{"Session"}},
		func(ctx context.Context, input *updateSettingsInput) (*settingsOutput, error) {
			if err := svc.Settings().Update(input.Body); err != nil {
				return nil, mapErr(err)
			}
			return &settingsOutput{Body: svc.Settings().Get()}, nil
		})

	type timeoutsBody struct {
		Implicit int64 `json:"implicit" minimum:"0" doc:"Implicit wait for element lookups, in milliseconds"`
	}
	type timeoutsInput struct {
		Body timeoutsBody
	}
	type timeoutsOutput struct {
		Body timeoutsBody
	}
	huma.Register(api, huma.Operation{OperationID: "set-timeouts", Method: http.MethodPost, Path: "/api/v1/timeouts", Summary: "Set the implicit wait", Tags: []string{"Session"}},
		func(ctx context.Context, input *timeoutsInput) (*timeoutsOutput, error) {
			svc.SetImplicitWait(time.Duration(input.Body.Implicit) * time.Millisecond)
			return &timeoutsOutput{Body: timeoutsBody{Implicit: svc.ImplicitWait().Milliseconds()}}, nil
		})
}
