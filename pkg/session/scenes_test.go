package session_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sessamekesh/scenelink/pkg/handlers"
	"github.com/sessamekesh/scenelink/pkg/message/broadcast"
	"github.com/sessamekesh/scenelink/pkg/scene"
	"github.com/sessamekesh/scenelink/pkg/session"
)

func parseLoad(t *testing.T, m *session.Manager, msg handlers.OutgoingMessage) *broadcast.LoadScenesBroadcast {
	t.Helper()
	env, err := m.Serializer().Parse(msg.Data)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	load, err := broadcast.ParseLoadScenesBroadcast(env.Payload)
	if err != nil {
		t.Fatalf("ParseLoadScenesBroadcast() error = %v", err)
	}
	return load
}

func TestSceneBroadcaster_SendsGlobalScenesOnAuthentication(t *testing.T) {
	auth := &testAuthenticator{decide: true, accept: true}
	m := newTestManager(t, auth, nil)
	tt := newTestTransport(t, m)
	sb := session.CreateSceneBroadcaster(m)

	lobby := scene.SceneLookupData{Name: "Lobby"}
	if err := sb.LoadGlobalScenes(scene.SceneLoadData{SceneLookupDatas: []scene.SceneLookupData{lobby}}); err != nil {
		t.Fatalf("LoadGlobalScenes() error = %v", err)
	}
	m.Tick()

	tt.connect()
	m.Tick()

	msgs := tt.drain()
	if len(msgs) != 1 {
		t.Fatalf("got %d outgoing messages, want 1", len(msgs))
	}

	want := scene.LoadSceneQueueData{
		ScopeType:    scene.ScopeType_Global,
		GlobalScenes: []string{"Lobby"},
		SceneLoadData: scene.SceneLoadData{
			SceneLookupDatas: []scene.SceneLookupData{lobby},
		},
	}
	if diff := cmp.Diff(want, parseLoad(t, m, msgs[0]).QueueData); diff != "" {
		t.Errorf("queue data mismatch (-want +got):\n%s", diff)
	}
}

func TestSceneBroadcaster_GlobalSceneSet(t *testing.T) {
	m := newTestManager(t, &testAuthenticator{}, nil)
	sb := session.CreateSceneBroadcaster(m)

	sb.LoadGlobalScenes(scene.SceneLoadData{SceneLookupDatas: []scene.SceneLookupData{{Name: "A"}, {Name: "B"}}})
	sb.LoadGlobalScenes(scene.SceneLoadData{SceneLookupDatas: []scene.SceneLookupData{{Name: "B"}, {Name: "C"}}})
	sb.UnloadGlobalScenes(scene.SceneUnloadData{SceneLookupDatas: []scene.SceneLookupData{{Name: "A"}}})

	if diff := cmp.Diff([]string{"B", "C"}, sb.GlobalScenes()); diff != "" {
		t.Errorf("GlobalScenes() mismatch (-want +got):\n%s", diff)
	}
}

func TestSceneBroadcaster_UnloadGlobalSceneByHandle(t *testing.T) {
	auth := &testAuthenticator{decide: true, accept: true}
	m := newTestManager(t, auth, nil)
	tt := newTestTransport(t, m)
	sb := session.CreateSceneBroadcaster(m)

	if err := sb.LoadGlobalScenes(scene.SceneLoadData{SceneLookupDatas: []scene.SceneLookupData{{Name: "Lobby"}, {Name: "Arena"}}}); err != nil {
		t.Fatalf("LoadGlobalScenes() error = %v", err)
	}
	id := tt.connect()
	m.Tick()
	tt.send(id, &broadcast.ClientScenesLoadedBroadcast{SceneReferences: []scene.SceneReferenceData{{Handle: 3, Name: "Lobby"}, {Handle: 4, Name: "Arena"}}})
	m.Tick()

	steps := []struct {
		name   string
		lookup scene.SceneLookupData
		want   []string
	}{
		{name: "handle and name", lookup: scene.SceneLookupData{Handle: 3, Name: "Lobby"}, want: []string{"Arena"}},
		{name: "acknowledged handle only", lookup: scene.SceneLookupData{Handle: 4}, want: []string{}},
	}
	for _, step := range steps {
		if err := sb.UnloadGlobalScenes(scene.SceneUnloadData{SceneLookupDatas: []scene.SceneLookupData{step.lookup}}); err != nil {
			t.Fatalf("%s: UnloadGlobalScenes() error = %v", step.name, err)
		}
		if diff := cmp.Diff(step.want, sb.GlobalScenes()); diff != "" {
			t.Errorf("%s: GlobalScenes() mismatch (-want +got):\n%s", step.name, diff)
		}
	}

	tt.drain()
	late := tt.connect()
	m.Tick()
	for _, msg := range tt.drain() {
		if msg.ConnectionId != late {
			continue
		}
		if got := tt.types([]handlers.OutgoingMessage{msg}); got[0] == broadcast.BroadcastType_LoadScenes {
			t.Errorf("late connection received unloaded global scenes: %v", parseLoad(t, m, msg).QueueData.GlobalScenes)
		}
	}
}

func TestSceneBroadcaster_RecordsAcknowledgedScenes(t *testing.T) {
	auth := &testAuthenticator{decide: true, accept: true}
	m := newTestManager(t, auth, nil)
	tt := newTestTransport(t, m)
	sb := session.CreateSceneBroadcaster(m)

	var notified []scene.SceneReferenceData
	sb.OnClientLoadedScenes(func(conn *session.Connection, refs []scene.SceneReferenceData) {
		notified = append(notified, refs...)
	})

	id := tt.connect()
	m.Tick()

	refs := []scene.SceneReferenceData{{Handle: 7, Name: "Arena"}, {Handle: 8, Name: "Arena_Props"}}
	tt.send(id, &broadcast.ClientScenesLoadedBroadcast{SceneReferences: refs})
	m.Tick()

	if diff := cmp.Diff(refs, sb.ConnectionScenes(id)); diff != "" {
		t.Errorf("ConnectionScenes() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(refs, notified); diff != "" {
		t.Errorf("OnClientLoadedScenes mismatch (-want +got):\n%s", diff)
	}

	err := sb.UnloadConnectionScenes([]uint32{id}, scene.SceneUnloadData{
		SceneLookupDatas: []scene.SceneLookupData{{Handle: 8}},
	})
	if err != nil {
		t.Fatalf("UnloadConnectionScenes() error = %v", err)
	}
	if diff := cmp.Diff(refs[:1], sb.ConnectionScenes(id)); diff != "" {
		t.Errorf("ConnectionScenes() after unload mismatch (-want +got):\n%s", diff)
	}

	tt.drain()
	m.Tick()
	wantTypes := []broadcast.BroadcastType{broadcast.BroadcastType_UnloadScenes}
	if diff := cmp.Diff(wantTypes, tt.types(tt.drain())); diff != "" {
		t.Errorf("delivered broadcasts mismatch (-want +got):\n%s", diff)
	}

	tt.disconnect(id)
	m.Tick()
	if got := sb.ConnectionScenes(id); got != nil {
		t.Errorf("ConnectionScenes() after disconnect = %v, want nil", got)
	}
}

func TestSceneBroadcaster_IgnoresUnauthenticatedAcknowledgment(t *testing.T) {
	auth := &testAuthenticator{}
	m := newTestManager(t, auth, nil)
	tt := newTestTransport(t, m)
	sb := session.CreateSceneBroadcaster(m)

	id := tt.connect()
	m.Tick()
	tt.send(id, &broadcast.ClientScenesLoadedBroadcast{
		SceneReferences: []scene.SceneReferenceData{{Handle: 1, Name: "Lobby"}},
	})
	m.Tick()

	if got := sb.ConnectionScenes(id); got != nil {
		t.Errorf("ConnectionScenes() = %v, want nil", got)
	}
}

func TestSceneBroadcaster_ConnectionScenesOnlyReachTargets(t *testing.T) {
	auth := &testAuthenticator{decide: true, accept: true}
	m := newTestManager(t, auth, nil)
	tt := newTestTransport(t, m)
	sb := session.CreateSceneBroadcaster(m)

	tt.connect()
	second := tt.connect()
	m.Tick()
	tt.drain()

	err := sb.LoadConnectionScenes([]uint32{second}, scene.SceneLoadData{
		SceneLookupDatas: []scene.SceneLookupData{{Name: "Dungeon"}},
	})
	if err != nil {
		t.Fatalf("LoadConnectionScenes() error = %v", err)
	}
	m.Tick()

	msgs := tt.drain()
	if len(msgs) != 1 || msgs[0].ConnectionId != second {
		t.Fatalf("outgoing = %+v, want one message for connection %d", msgs, second)
	}
	if got := parseLoad(t, m, msgs[0]).QueueData.ScopeType; got != scene.ScopeType_Connections {
		t.Errorf("ScopeType = %v, want Connections", got)
	}
}
