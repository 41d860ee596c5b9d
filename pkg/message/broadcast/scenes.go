package broadcast

import (
	"encoding/binary"

	"github.com/sessamekesh/scenelink/pkg/errors"
	"github.com/sessamekesh/scenelink/pkg/scene"
)

// LoadScenesBroadcast is sent from the server to tell clients to load a batch of scenes.
type LoadScenesBroadcast struct {
	QueueData scene.LoadSceneQueueData
}

// UnloadScenesBroadcast is sent from the server to tell clients to unload a batch of scenes.
type UnloadScenesBroadcast struct {
	QueueData scene.UnloadSceneQueueData
}

// ClientScenesLoadedBroadcast is sent by a client once it finished applying a load batch.
type ClientScenesLoadedBroadcast struct {
	SceneReferences []scene.SceneReferenceData
}

func (b *LoadScenesBroadcast) BroadcastType() BroadcastType {
	return BroadcastType_LoadScenes
}

func (b *UnloadScenesBroadcast) BroadcastType() BroadcastType {
	return BroadcastType_UnloadScenes
}

func (b *ClientScenesLoadedBroadcast) BroadcastType() BroadcastType {
	return BroadcastType_ClientScenesLoaded
}

func appendLookupDatas(out []byte, messageName string, lookups []scene.SceneLookupData) ([]byte, error) {
	out, err := appendCount(out, messageName, "SceneLookupDatas", len(lookups))
	if err != nil {
		return nil, err
	}
	for _, lookup := range lookups {
		if out, err = appendLookupData(out, messageName, lookup); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func appendLookupData(out []byte, messageName string, lookup scene.SceneLookupData) ([]byte, error) {
	out = binary.LittleEndian.AppendUint32(out, uint32(lookup.Handle))
	return appendString(out, messageName, "SceneLookupData::Name", lookup.Name)
}

func appendOptionalLookupData(out []byte, messageName string, lookup *scene.SceneLookupData) ([]byte, error) {
	out = appendBool(out, lookup != nil)
	if lookup == nil {
		return out, nil
	}
	return appendLookupData(out, messageName, *lookup)
}

func appendStrings(out []byte, messageName, fieldName string, values []string) ([]byte, error) {
	out, err := appendCount(out, messageName, fieldName, len(values))
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		if out, err = appendString(out, messageName, fieldName, v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (b *LoadScenesBroadcast) AppendPayload(out []byte) ([]byte, error) {
	const messageName = "LoadScenesBroadcast"
	q := b.QueueData
	d := q.SceneLoadData

	var err error
	out = append(out, uint8(q.ScopeType))
	if out, err = appendStrings(out, messageName, "GlobalScenes", q.GlobalScenes); err != nil {
		return nil, err
	}
	if out, err = appendLookupDatas(out, messageName, d.SceneLookupDatas); err != nil {
		return nil, err
	}
	if out, err = appendCount(out, messageName, "MovedObjectIds", len(d.MovedObjectIds)); err != nil {
		return nil, err
	}
	for _, id := range d.MovedObjectIds {
		out = binary.LittleEndian.AppendUint32(out, uint32(id))
	}
	if out, err = appendOptionalLookupData(out, messageName, d.PreferredActiveScene); err != nil {
		return nil, err
	}
	out = append(out, uint8(d.ReplaceScenes))
	if out, err = appendBytes(out, messageName, "ClientParams", d.Params.ClientParams); err != nil {
		return nil, err
	}
	out = appendBool(out, d.Options.AutomaticallyUnload)
	out = appendBool(out, d.Options.AllowStacking)
	out = append(out, uint8(d.Options.LocalPhysics))

	return out, nil
}

func (b *UnloadScenesBroadcast) AppendPayload(out []byte) ([]byte, error) {
	const messageName = "UnloadScenesBroadcast"
	q := b.QueueData
	d := q.SceneUnloadData

	var err error
	out = append(out, uint8(q.ScopeType))
	if out, err = appendStrings(out, messageName, "GlobalScenes", q.GlobalScenes); err != nil {
		return nil, err
	}
	if out, err = appendLookupDatas(out, messageName, d.SceneLookupDatas); err != nil {
		return nil, err
	}
	if out, err = appendOptionalLookupData(out, messageName, d.PreferredActiveScene); err != nil {
		return nil, err
	}
	if out, err = appendBytes(out, messageName, "ClientParams", d.Params.ClientParams); err != nil {
		return nil, err
	}
	out = append(out, uint8(d.Options.Mode))

	return out, nil
}

func (b *ClientScenesLoadedBroadcast) AppendPayload(out []byte) ([]byte, error) {
	const messageName = "ClientScenesLoadedBroadcast"

	out, err := appendCount(out, messageName, "SceneReferences", len(b.SceneReferences))
	if err != nil {
		return nil, err
	}
	for _, ref := range b.SceneReferences {
		out = binary.LittleEndian.AppendUint32(out, uint32(ref.Handle))
		if out, err = appendString(out, messageName, "SceneReferenceData::Name", ref.Name); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readLookupData(r *reader) scene.SceneLookupData {
	return scene.SceneLookupData{
		Handle: r.int32("SceneLookupData::Handle"),
		Name:   r.string("SceneLookupData::Name"),
	}
}

func readLookupDatas(r *reader) []scene.SceneLookupData {
	n := r.count("SceneLookupDatas")
	if r.err != nil || n == 0 {
		return nil
	}
	lookups := make([]scene.SceneLookupData, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		lookups = append(lookups, readLookupData(r))
	}
	return lookups
}

func readOptionalLookupData(r *reader) *scene.SceneLookupData {
	if !r.bool("PreferredActiveScene") {
		return nil
	}
	lookup := readLookupData(r)
	return &lookup
}

func readStrings(r *reader, fieldName string) []string {
	n := r.count(fieldName)
	if r.err != nil || n == 0 {
		return nil
	}
	values := make([]string, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		values = append(values, r.string(fieldName))
	}
	return values
}

func ParseLoadScenesBroadcast(payload []byte) (*LoadScenesBroadcast, error) {
	r := newReader("LoadScenesBroadcast", payload)

	q := scene.LoadSceneQueueData{}
	q.ScopeType = scene.ScopeType(r.enum("ScopeType", uint8(scene.ScopeType_NONE)))
	q.GlobalScenes = readStrings(r, "GlobalScenes")

	d := &q.SceneLoadData
	d.SceneLookupDatas = readLookupDatas(r)
	if n := r.count("MovedObjectIds"); n > 0 && r.err == nil {
		d.MovedObjectIds = make([]int32, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			d.MovedObjectIds = append(d.MovedObjectIds, r.int32("MovedObjectId"))
		}
	}
	d.PreferredActiveScene = readOptionalLookupData(r)
	d.ReplaceScenes = scene.ReplaceOption(r.enum("ReplaceOption", uint8(scene.ReplaceOption_NONE)))
	d.Params.ClientParams = r.bytes("ClientParams")
	d.Options.AutomaticallyUnload = r.bool("AutomaticallyUnload")
	d.Options.AllowStacking = r.bool("AllowStacking")
	d.Options.LocalPhysics = scene.LocalPhysicsMode(r.enum("LocalPhysicsMode", uint8(scene.LocalPhysicsMode_NONE)))

	if err := r.finish(); err != nil {
		return nil, err
	}
	return &LoadScenesBroadcast{QueueData: q}, nil
}

func ParseUnloadScenesBroadcast(payload []byte) (*UnloadScenesBroadcast, error) {
	r := newReader("UnloadScenesBroadcast", payload)

	q := scene.UnloadSceneQueueData{}
	q.ScopeType = scene.ScopeType(r.enum("ScopeType", uint8(scene.ScopeType_NONE)))
	q.GlobalScenes = readStrings(r, "GlobalScenes")

	d := &q.SceneUnloadData
	d.SceneLookupDatas = readLookupDatas(r)
	d.PreferredActiveScene = readOptionalLookupData(r)
	d.Params.ClientParams = r.bytes("ClientParams")
	d.Options.Mode = scene.UnloadMode(r.enum("UnloadMode", uint8(scene.UnloadMode_NONE)))

	if err := r.finish(); err != nil {
		return nil, err
	}
	return &UnloadScenesBroadcast{QueueData: q}, nil
}

func ParseClientScenesLoadedBroadcast(payload []byte) (*ClientScenesLoadedBroadcast, error) {
	r := newReader("ClientScenesLoadedBroadcast", payload)

	n := r.count("SceneReferences")
	var refs []scene.SceneReferenceData
	if n > 0 {
		refs = make([]scene.SceneReferenceData, 0, n)
	}
	for i := 0; i < n && r.err == nil; i++ {
		refs = append(refs, scene.SceneReferenceData{
			Handle: r.int32("SceneReferenceData::Handle"),
			Name:   r.string("SceneReferenceData::Name"),
		})
	}

	if err := r.finish(); err != nil {
		return nil, err
	}
	return &ClientScenesLoadedBroadcast{SceneReferences: refs}, nil
}

// ParseAppBroadcast wraps an application frame without interpreting its payload.
func ParseAppBroadcast(env *Envelope) (*AppBroadcast, error) {
	if env.Type < BroadcastType_AppMessageStart {
		return nil, &errors.InvalidEnumValue{
			EnumName: "AppBroadcast::Type",
			IntValue: uint16(env.Type),
		}
	}
	return &AppBroadcast{Type: env.Type, Data: env.Payload}, nil
}
