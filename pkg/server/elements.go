package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

type handleInput struct {
	Handle string `path:"handle" doc:"Element handle returned by a find"`
}

type okOutput struct {
	Body struct {
		OK bool `json:"ok"`
	}
}

func ok() *okOutput {
	out := &okOutput{}
	out.Body.OK = true
	return out
}

func registerElementHandlers(api huma.API, svc Service) {
	type findInput struct {
		Body struct {
			Using    string `json:"using" doc:"Locator strategy, e.g. css selector"`
			Value    string `json:"value"`
			Multiple bool   `json:"multiple,omitempty"`
			Parent   string `json:"parent,omitempty" doc:"Handle of the element to search under"`
		}
	}
	type findOutput struct {
		Body struct {
			Value any `json:"value"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "find-elements", Method: http.MethodPost, Path: "/api/v1/elements", Summary: "Find one or more web elements", Tags: []string{"Elements"}},
		func(ctx context.Context, input *findInput) (*findOutput, error) {
			var parent interface{}
			if input.Body.Parent != "" {
				parent = input.Body.Parent
			}
			found, err := svc.FindElements(ctx, input.Body.Using, input.Body.Value, input.Body.Multiple, parent)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &findOutput{}
			out.Body.Value = found
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "click-element", Method: http.MethodPost, Path: "/api/v1/element/{handle}/click", Summary: "Click an element (atom or native tap per settings)", Tags: []string{"Elements"}},
		func(ctx context.Context, input *handleInput) (*okOutput, error) {
			if err := svc.Click(ctx, input.Handle); err != nil {
				return nil, mapErr(err)
			}
			return ok(), nil
		})

	huma.Register(api, huma.Operation{OperationID: "native-tap-element", Method: http.MethodPost, Path: "/api/v1/element/{handle}/native-tap", Summary: "Tap an element through the native agent", Tags: []string{"Elements"}},
		func(ctx context.Context, input *handleInput) (*okOutput, error) {
			if err := svc.NativeWebTap(ctx, input.Handle); err != nil {
				return nil, mapErr(err)
			}
			return ok(), nil
		})

	type textOutput struct {
		Body struct {
			Text string `json:"text"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "element-text", Method: http.MethodGet, Path: "/api/v1/element/{handle}/text", Summary: "Get an element's visible text", Tags: []string{"Elements"}},
		func(ctx context.Context, input *handleInput) (*textOutput, error) {
			text, err := svc.Text(ctx, input.Handle)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &textOutput{}
			out.Body.Text = text
			return out, nil
		})

	type attributeInput struct {
		Handle string `path:"handle"`
		Name   string `path:"name"`
	}
	type attributeOutput struct {
		Body struct {
			Value *string `json:"value"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "element-attribute", Method: http.MethodGet, Path: "/api/v1/element/{handle}/attribute/{name}", Summary: "Get an element attribute (null when absent)", Tags: []string{"Elements"}},
		func(ctx context.Context, input *attributeInput) (*attributeOutput, error) {
			value, found, err := svc.Attribute(ctx, input.Handle, input.Name)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &attributeOutput{}
			if found {
				out.Body.Value = &value
			}
			return out, nil
		})

	type cacheOutput struct {
		Body struct {
			Size    int      `json:"size"`
			Handles []string `json:"handles"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "element-cache", Method: http.MethodGet, Path: "/api/v1/elements/cache", Summary: "Inspect the element handle cache", Tags: []string{"Elements"}},
		func(ctx context.Context, input *struct{}) (*cacheOutput, error) {
			out := &cacheOutput{}
			out.Body.Handles = svc.Elements().Handles()
			out.Body.Size = len(out.Body.Handles)
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "purge-element-cache", Method: http.MethodDelete, Path: "/api/v1/elements/cache", Summary: "Forget every cached element handle", Tags: []string{"Elements"}},
		func(ctx context.Context, input *struct{}) (*okOutput, error) {
			svc.Elements().Purge()
			return ok(), nil
		})

	type frameInput struct {
		Body struct {
			ID any `json:"id,omitempty" doc:"Index, id/name, element, or null for the top document"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "switch-frame", Method: http.MethodPost, Path: "/api/v1/frame", Summary: "Switch the frame atoms run in", Tags: []string{"Elements"}},
		func(ctx context.Context, input *frameInput) (*okOutput, error) {
			if err := svc.SetFrame(ctx, input.Body.ID); err != nil {
				return nil, mapErr(err)
			}
			return ok(), nil
		})
}
