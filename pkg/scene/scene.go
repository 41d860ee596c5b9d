// Package scene holds the scene descriptors exchanged by the scene broadcasts. The session
// core treats them as opaque batches; only the client-side loader and the server-side
// scene owner interpret them.
package scene

// SceneLookupData identifies a scene to load or unload. A non-zero Handle takes precedence
// over Name when the receiver resolves it.
type SceneLookupData struct {
	Handle int32
	Name   string
}

// SceneReferenceData identifies one concrete, loaded scene instance.
type SceneReferenceData struct {
	Handle int32
	Name   string
}

// Matches reports whether the reference points at the scene described by lookup.
func (r SceneReferenceData) Matches(lookup SceneLookupData) bool {
	if lookup.Handle != 0 {
		return r.Handle == lookup.Handle
	}
	return r.Name == lookup.Name
}

type ReplaceOption uint8

const (
	ReplaceOption_None ReplaceOption = iota
	ReplaceOption_OnlineOnly
	ReplaceOption_All

	ReplaceOption_NONE
)

type LocalPhysicsMode uint8

const (
	LocalPhysicsMode_None LocalPhysicsMode = iota
	LocalPhysicsMode_Physics2D
	LocalPhysicsMode_Physics3D

	LocalPhysicsMode_NONE
)

type LoadOptions struct {
	// Unload the scene automatically once no connection has it loaded.
	AutomaticallyUnload bool
	// Load another instance of a scene even if one with the same name is loaded.
	AllowStacking bool
	LocalPhysics  LocalPhysicsMode
}

type LoadParams struct {
	// ServerParams stay on the server and are never serialized.
	ServerParams []any
	ClientParams []byte
}

type SceneLoadData struct {
	SceneLookupDatas     []SceneLookupData
	MovedObjectIds       []int32
	PreferredActiveScene *SceneLookupData
	ReplaceScenes        ReplaceOption
	Params               LoadParams
	Options              LoadOptions
}

type UnloadMode uint8

const (
	UnloadMode_UnloadUnused UnloadMode = iota
	UnloadMode_KeepUnused
	UnloadMode_UnloadAll

	UnloadMode_NONE
)

type UnloadOptions struct {
	Mode UnloadMode
}

type UnloadParams struct {
	ServerParams []any
	ClientParams []byte
}

type SceneUnloadData struct {
	SceneLookupDatas     []SceneLookupData
	PreferredActiveScene *SceneLookupData
	Params               UnloadParams
	Options              UnloadOptions
}

type ScopeType uint8

const (
	ScopeType_Global ScopeType = iota
	ScopeType_Connections

	ScopeType_NONE
)

// LoadSceneQueueData is a batch of scenes to load on the receiving client.
type LoadSceneQueueData struct {
	ScopeType ScopeType
	// Names of every global scene on the server at the time the batch was queued.
	GlobalScenes  []string
	SceneLoadData SceneLoadData
}

// UnloadSceneQueueData is a batch of scenes to unload on the receiving client.
type UnloadSceneQueueData struct {
	ScopeType       ScopeType
	GlobalScenes    []string
	SceneUnloadData SceneUnloadData
}
