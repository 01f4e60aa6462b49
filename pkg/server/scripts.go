package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

type valueOutput struct {
	Body struct {
		Value any `json:"value"`
	}
}

func registerScriptHandlers(api huma.API, svc Service) {
	type scriptInput struct {
		Body struct {
			Script string `json:"script" doc:"Function body; arguments are available as arguments[i]"`
			Args   []any  `json:"args,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "execute-script", Method: http.MethodPost, Path: "/api/v1/execute/sync", Summary: "Run a script in the current frame", Tags: []string{"Scripts"}},
		func(ctx context.Context, input *scriptInput) (*valueOutput, error) {
			v, err := svc.ExecuteScript(ctx, input.Body.Script, input.Body.Args)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &valueOutput{}
			out.Body.Value = v
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "execute-async-script", Method: http.MethodPost, Path: "/api/v1/execute/async", Summary: "Run a script that reports through its last argument", Tags: []string{"Scripts"}},
		func(ctx context.Context, input *scriptInput) (*valueOutput, error) {
			v, err := svc.ExecuteAsyncScript(ctx, input.Body.Script, input.Body.Args)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &valueOutput{}
			out.Body.Value = v
			return out, nil
		})

	type atomInput struct {
		Name string `path:"name" doc:"Atom name, e.g. get_text"`
		Body struct {
			Args  []any `json:"args,omitempty"`
			Async bool  `json:"async,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "execute-atom", Method: http.MethodPost, Path: "/api/v1/atoms/{name}", Summary: "Run a named automation atom", Tags: []string{"Scripts"}},
		func(ctx context.Context, input *atomInput) (*valueOutput, error) {
			var (
				v   interface{}
				err error
			)
			args := svc.Elements().ConvertElementsForAtoms(input.Body.Args)
			if input.Body.Async {
				v, err = svc.ExecuteAtomAsync(ctx, input.Name, args)
			} else {
				v, err = svc.ExecuteAtom(ctx, input.Name, args)
			}
			if err != nil {
				return nil, mapErr(err)
			}
			out := &valueOutput{}
			out.Body.Value = svc.Elements().CacheWebElements(v)
			return out, nil
		})

	type asyncResponseInput struct {
		Body struct {
			Status *int `json:"status,omitempty" doc:"Legacy status code; omit for W3C responses"`
			Value  any  `json:"value,omitempty"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "async-response", Method: http.MethodPost, Path: "/api/v1/async-response", Summary: "Deliver the result of a pending asynchronous atom", Tags: []string{"Scripts"}},
		func(ctx context.Context, input *asyncResponseInput) (*okOutput, error) {
			svc.ReceiveAsyncResponse(input.Body.Status, input.Body.Value)
			return ok(), nil
		})
}
