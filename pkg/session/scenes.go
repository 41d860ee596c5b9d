package session

import (
	"sync"

	"github.com/sessamekesh/scenelink/pkg/message/broadcast"
	"github.com/sessamekesh/scenelink/pkg/scene"
	"go.uber.org/zap"
)

type ClientLoadedScenesFunc func(conn *Connection, refs []scene.SceneReferenceData)

// SceneBroadcaster keeps clients in sync with the scenes the server has loaded. Global
// scenes go to every authenticated connection, including ones that authenticate later;
// connection scenes go only to the listed connections.
type SceneBroadcaster struct {
	manager *Manager
	log     *zap.Logger

	mut_scenes       sync.RWMutex
	globalScenes     []scene.SceneLookupData
	connectionScenes map[uint32][]scene.SceneReferenceData

	mut_subscribers sync.RWMutex
	subscribers     []ClientLoadedScenesFunc
}

func CreateSceneBroadcaster(m *Manager) *SceneBroadcaster {
	sb := &SceneBroadcaster{
		manager:          m,
		log:              m.Logger().With(zap.String("handler", "SceneBroadcaster")),
		connectionScenes: make(map[uint32][]scene.SceneReferenceData),
	}

	m.RegisterBroadcastHandler(broadcast.BroadcastType_ClientScenesLoaded, true, sb.onClientScenesLoaded)
	m.OnRemoteConnectionState(sb.onConnectionState)

	return sb
}

func (sb *SceneBroadcaster) OnClientLoadedScenes(fn ClientLoadedScenesFunc) {
	sb.mut_subscribers.Lock()
	defer sb.mut_subscribers.Unlock()
	sb.subscribers = append(sb.subscribers, fn)
}

// GlobalScenes returns the names of the scenes currently loaded for everyone.
func (sb *SceneBroadcaster) GlobalScenes() []string {
	sb.mut_scenes.RLock()
	defer sb.mut_scenes.RUnlock()
	return sb.globalSceneNames()
}

func (sb *SceneBroadcaster) globalSceneNames() []string {
	names := make([]string, 0, len(sb.globalScenes))
	for _, lookup := range sb.globalScenes {
		if lookup.Name != "" {
			names = append(names, lookup.Name)
		}
	}
	return names
}

// ConnectionScenes returns the scenes a connection has acknowledged as loaded.
func (sb *SceneBroadcaster) ConnectionScenes(connectionId uint32) []scene.SceneReferenceData {
	sb.mut_scenes.RLock()
	defer sb.mut_scenes.RUnlock()

	refs := sb.connectionScenes[connectionId]
	if len(refs) == 0 {
		return nil
	}
	out := make([]scene.SceneReferenceData, len(refs))
	copy(out, refs)
	return out
}

func (sb *SceneBroadcaster) LoadGlobalScenes(data scene.SceneLoadData) error {
	sb.mut_scenes.Lock()
	for _, lookup := range data.SceneLookupDatas {
		if !data.Options.AllowStacking && containsLookup(sb.globalScenes, lookup) {
			continue
		}
		sb.globalScenes = append(sb.globalScenes, lookup)
	}
	names := sb.globalSceneNames()
	sb.mut_scenes.Unlock()

	sb.log.Info("Loading global scenes", zap.Int("count", len(data.SceneLookupDatas)))
	return sb.manager.Broadcast(&broadcast.LoadScenesBroadcast{
		QueueData: scene.LoadSceneQueueData{
			ScopeType:     scene.ScopeType_Global,
			GlobalScenes:  names,
			SceneLoadData: data,
		},
	}, true)
}

func (sb *SceneBroadcaster) UnloadGlobalScenes(data scene.SceneUnloadData) error {
	sb.mut_scenes.Lock()
	targets := sb.resolveHandles(data.SceneLookupDatas)
	remaining := sb.globalScenes[:0]
	for _, lookup := range sb.globalScenes {
		if !containsLookup(targets, lookup) {
			remaining = append(remaining, lookup)
		}
	}
	sb.globalScenes = remaining
	for connectionId := range sb.connectionScenes {
		sb.forgetScenes(connectionId, data.SceneLookupDatas)
	}
	names := sb.globalSceneNames()
	sb.mut_scenes.Unlock()

	sb.log.Info("Unloading global scenes", zap.Int("count", len(data.SceneLookupDatas)))
	return sb.manager.Broadcast(&broadcast.UnloadScenesBroadcast{
		QueueData: scene.UnloadSceneQueueData{
			ScopeType:       scene.ScopeType_Global,
			GlobalScenes:    names,
			SceneUnloadData: data,
		},
	}, true)
}

func (sb *SceneBroadcaster) LoadConnectionScenes(connectionIds []uint32, data scene.SceneLoadData) error {
	sb.mut_scenes.RLock()
	names := sb.globalSceneNames()
	sb.mut_scenes.RUnlock()

	return sb.manager.SendToMany(connectionIds, &broadcast.LoadScenesBroadcast{
		QueueData: scene.LoadSceneQueueData{
			ScopeType:     scene.ScopeType_Connections,
			GlobalScenes:  names,
			SceneLoadData: data,
		},
	}, true)
}

func (sb *SceneBroadcaster) UnloadConnectionScenes(connectionIds []uint32, data scene.SceneUnloadData) error {
	sb.mut_scenes.Lock()
	for _, connectionId := range connectionIds {
		sb.forgetScenes(connectionId, data.SceneLookupDatas)
	}
	names := sb.globalSceneNames()
	sb.mut_scenes.Unlock()

	return sb.manager.SendToMany(connectionIds, &broadcast.UnloadScenesBroadcast{
		QueueData: scene.UnloadSceneQueueData{
			ScopeType:       scene.ScopeType_Connections,
			GlobalScenes:    names,
			SceneUnloadData: data,
		},
	}, true)
}

// forgetScenes must be called with mut_scenes held.
func (sb *SceneBroadcaster) forgetScenes(connectionId uint32, lookups []scene.SceneLookupData) {
	refs, has := sb.connectionScenes[connectionId]
	if !has {
		return
	}

	remaining := refs[:0]
	for _, ref := range refs {
		unloaded := false
		for _, lookup := range lookups {
			if ref.Matches(lookup) {
				unloaded = true
				break
			}
		}
		if !unloaded {
			remaining = append(remaining, ref)
		}
	}
	sb.connectionScenes[connectionId] = remaining
}

func (sb *SceneBroadcaster) onConnectionState(conn *Connection, state ConnectionState) {
	switch state {
	case ConnectionState_Authenticated:
		sb.mut_scenes.Lock()
		sb.connectionScenes[conn.Id] = nil
		lookups := make([]scene.SceneLookupData, len(sb.globalScenes))
		copy(lookups, sb.globalScenes)
		names := sb.globalSceneNames()
		sb.mut_scenes.Unlock()

		if len(lookups) == 0 {
			return
		}

		err := sb.manager.SendTo(conn.Id, &broadcast.LoadScenesBroadcast{
			QueueData: scene.LoadSceneQueueData{
				ScopeType:    scene.ScopeType_Global,
				GlobalScenes: names,
				SceneLoadData: scene.SceneLoadData{
					SceneLookupDatas: lookups,
				},
			},
		}, true)
		if err != nil {
			sb.log.Error("Failed to send global scenes to new connection", zap.Uint32("connectionId", conn.Id), zap.Error(err))
		}
	case ConnectionState_Disconnected:
		sb.mut_scenes.Lock()
		delete(sb.connectionScenes, conn.Id)
		sb.mut_scenes.Unlock()
	}
}

func (sb *SceneBroadcaster) onClientScenesLoaded(conn *Connection, env *broadcast.Envelope) {
	msg, err := broadcast.ParseClientScenesLoadedBroadcast(env.Payload)
	if err != nil {
		sb.log.Warn("Malformed ClientScenesLoaded broadcast", zap.Uint32("connectionId", conn.Id), zap.Error(err))
		return
	}

	sb.mut_scenes.Lock()
	refs := sb.connectionScenes[conn.Id]
	for _, ref := range msg.SceneReferences {
		if !containsReference(refs, ref) {
			refs = append(refs, ref)
		}
	}
	sb.connectionScenes[conn.Id] = refs
	sb.mut_scenes.Unlock()

	sb.log.Debug("Client loaded scenes", zap.Uint32("connectionId", conn.Id), zap.Int("count", len(msg.SceneReferences)))

	sb.mut_subscribers.RLock()
	subscribers := make([]ClientLoadedScenesFunc, len(sb.subscribers))
	copy(subscribers, sb.subscribers)
	sb.mut_subscribers.RUnlock()

	for _, fn := range subscribers {
		fn(conn, msg.SceneReferences)
	}
}

// resolveHandles fills in the name of handle-only lookups from acknowledged references so
// they also match scenes that were loaded by name. Must be called with mut_scenes held.
func (sb *SceneBroadcaster) resolveHandles(lookups []scene.SceneLookupData) []scene.SceneLookupData {
	out := make([]scene.SceneLookupData, len(lookups))
	copy(out, lookups)
	for i, lookup := range out {
		if lookup.Handle == 0 || lookup.Name != "" {
			continue
		}
	search:
		for _, refs := range sb.connectionScenes {
			for _, ref := range refs {
				if ref.Handle == lookup.Handle && ref.Name != "" {
					out[i].Name = ref.Name
					break search
				}
			}
		}
	}
	return out
}

// lookupsMatch compares handles when both sides carry one and names otherwise.
func lookupsMatch(a, b scene.SceneLookupData) bool {
	if a.Handle != 0 && b.Handle != 0 {
		return a.Handle == b.Handle
	}
	return a.Name == b.Name
}

func containsLookup(lookups []scene.SceneLookupData, target scene.SceneLookupData) bool {
	for _, lookup := range lookups {
		if lookupsMatch(lookup, target) {
			return true
		}
	}
	return false
}

func containsReference(refs []scene.SceneReferenceData, target scene.SceneReferenceData) bool {
	for _, ref := range refs {
		if ref == target {
			return true
		}
	}
	return false
}
