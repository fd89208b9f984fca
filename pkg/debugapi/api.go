package debugapi

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/vango-dev/herald/pkg/notify"
	"github.com/vango-dev/herald/pkg/watch"
)

type listControllersOutput struct {
	Body []Info
}

type controllerInput struct {
	Name string   `path:"name" doc:"Controller name"`
	Keys []string `query:"keys" doc:"Keys to report listener counts for"`
}

type controllerOutput struct {
	Body struct {
		Info
		Keyed map[string]int `json:"keyed,omitempty"`
	}
}

type notifyInput struct {
	Name string `path:"name" doc:"Controller name"`
	Body struct {
		Keys          []string `json:"keys,omitempty" doc:"Keys to notify; empty means a global notification"`
		Value         any      `json:"value,omitempty" doc:"Value passed to value listeners"`
		ExcludeGlobal bool     `json:"excludeGlobal,omitempty" doc:"Skip global listeners"`
	}
}

type notifyOutput struct {
	Body struct {
		Controller string `json:"controller"`
		Passes     int    `json:"passes"`
	}
}

type watchersOutput struct {
	Body struct {
		Total  int            `json:"total"`
		Labels map[string]int `json:"labels"`
	}
}

// registerOperations adds the introspection operations to api.
func registerOperations(api huma.API, hub *Hub, registry *watch.Registry) {
	huma.Register(api, huma.Operation{
		OperationID: "list-controllers",
		Method:      http.MethodGet,
		Path:        "/api/controllers",
		Summary:     "List registered controllers",
		Tags:        []string{"controllers"},
	}, func(ctx context.Context, input *struct{}) (*listControllersOutput, error) {
		return &listControllersOutput{Body: hub.List()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-controller",
		Method:      http.MethodGet,
		Path:        "/api/controllers/{name}",
		Summary:     "Describe a controller",
		Tags:        []string{"controllers"},
	}, func(ctx context.Context, input *controllerInput) (*controllerOutput, error) {
		ctrl, ok := hub.Get(input.Name)
		if !ok {
			return nil, huma.Error404NotFound("controller " + input.Name + " not found")
		}
		info, _ := hub.Info(input.Name)

		out := &controllerOutput{}
		out.Body.Info = info
		if len(input.Keys) > 0 {
			out.Body.Keyed = make(map[string]int, len(input.Keys))
			for _, k := range input.Keys {
				out.Body.Keyed[k] = ctrl.KeyedListenersCount(k)
			}
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "notify-controller",
		Method:        http.MethodPost,
		Path:          "/api/controllers/{name}/notify",
		Summary:       "Run a notification",
		Tags:          []string{"controllers"},
		DefaultStatus: http.StatusOK,
	}, func(ctx context.Context, input *notifyInput) (*notifyOutput, error) {
		ctrl, ok := hub.Get(input.Name)
		if !ok {
			return nil, huma.Error404NotFound("controller " + input.Name + " not found")
		}
		if ctrl.IsDisposed() {
			return nil, huma.Error409Conflict("controller " + input.Name + " is disposed")
		}

		keys := make([]any, 0, len(input.Body.Keys))
		seen := make(map[string]bool, len(input.Body.Keys))
		for _, k := range input.Body.Keys {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
		ctrl.NotifyListeners(notify.Notification{
			Keys:          keys,
			Value:         input.Body.Value,
			ExcludeGlobal: input.Body.ExcludeGlobal,
		})

		out := &notifyOutput{}
		out.Body.Controller = input.Name
		out.Body.Passes = max(1, len(keys))
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-watchers",
		Method:      http.MethodGet,
		Path:        "/api/watchers",
		Summary:     "Count live watchers by label",
		Tags:        []string{"watchers"},
	}, func(ctx context.Context, input *struct{}) (*watchersOutput, error) {
		out := &watchersOutput{}
		out.Body.Labels = registry.Counts()
		out.Body.Total = registry.Total()
		return out, nil
	})
}
