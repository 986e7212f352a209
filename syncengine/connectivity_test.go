package syncengine

import (
	"net/http"
	"testing"

	"bitbucket.org/mmdatafocus/pos_device/config"
)

func TestConnectivityTransitionsNotifyOnce(t *testing.T) {
	observer := NewConnectivityObserver(config.GetLogger(), "")

	var transitions []bool
	observer.OnChange(func(online bool) { transitions = append(transitions, online) })

	if !observer.Online() {
		t.Fatal("observer must assume online at start")
	}
	if changed := observer.SetOnline(true); changed {
		t.Fatal("reporting the current state must not count as a transition")
	}
	if changed := observer.SetOnline(false); !changed {
		t.Fatal("online->offline must register")
	}
	if changed := observer.SetOnline(false); changed {
		t.Fatal("repeated offline reports must coalesce")
	}
	if changed := observer.SetOnline(true); !changed {
		t.Fatal("offline->online must register")
	}

	want := []bool{false, true}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}
}

func TestOnlineTransitionKicksDrain(t *testing.T) {
	setupStore(t)
	srv := newPushServer(t, func(int, PushRequest) (int, string) {
		return http.StatusOK, `{"success":true}`
	})
	engine := newTestEngine(t, srv.URL, "shop-connectivity-kick")

	engine.connectivity.SetOnline(false)
	engine.connectivity.SetOnline(true)

	select {
	case <-engine.kick:
		// drain requested
	default:
		t.Fatal("offline->online transition must queue a drain kick")
	}
}
