package client

import (
	"context"
	"sync"

	"github.com/sessamekesh/scenelink/pkg/scene"
)

// SimulatedSceneLoader "loads" scenes by handing out handles. It is what headless clients,
// bots and tests use. Generated handles are negative so they never collide with handles
// the server picked.
type SimulatedSceneLoader struct {
	mut_handles sync.Mutex
	nextHandle  int32
}

func (l *SimulatedSceneLoader) LoadScenes(ctx context.Context, data scene.LoadSceneQueueData) ([]scene.SceneReferenceData, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mut_handles.Lock()
	defer l.mut_handles.Unlock()

	lookups := data.SceneLoadData.SceneLookupDatas
	if len(lookups) == 0 {
		return nil, nil
	}

	refs := make([]scene.SceneReferenceData, 0, len(lookups))
	for _, lookup := range lookups {
		handle := lookup.Handle
		if handle == 0 {
			l.nextHandle--
			handle = l.nextHandle
		}
		refs = append(refs, scene.SceneReferenceData{Handle: handle, Name: lookup.Name})
	}
	return refs, nil
}

func (l *SimulatedSceneLoader) UnloadScenes(ctx context.Context, data scene.UnloadSceneQueueData) error {
	return ctx.Err()
}
