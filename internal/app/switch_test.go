package app

import (
	"context"
	"errors"
	"testing"

	"quizroom-service/internal/docstore"
	"quizroom-service/internal/domain"
)

func newSwitchFixture(t *testing.T) (*fixture, *SwitchCoordinator) {
	t.Helper()
	f := newFixture(t, RetrySameAnswerer)
	coord := NewSwitchCoordinator(f.stores, f.membership, f.registry, NewMemoryPendingStore())
	return f, coord
}

func TestRequestJoinWithoutCurrentRoomJoinsDirectly(t *testing.T) {
	f, coord := newSwitchFixture(t)
	roomID := f.createRoom(t, "alpha", "leader")

	prompt, err := coord.RequestJoin(context.Background(), "bob", "bob", 1, roomID)
	if err != nil {
		t.Fatalf("RequestJoin: %v", err)
	}
	if prompt != nil {
		t.Fatalf("unexpected prompt for free user: %+v", prompt)
	}
	if _, ok := f.room(t, roomID).Participants["bob"]; !ok {
		t.Fatal("bob not joined")
	}
}

func TestRequestJoinSameRoomIsIdempotent(t *testing.T) {
	f, coord := newSwitchFixture(t)
	roomID := f.createRoom(t, "alpha", "leader")
	f.join(t, roomID, "bob")

	prompt, err := coord.RequestJoin(context.Background(), "bob", "bob", 1, roomID)
	if err != nil || prompt != nil {
		t.Fatalf("re-join own room = (%+v, %v), want no prompt, no error", prompt, err)
	}
	if got := len(f.room(t, roomID).Participants); got != 2 {
		t.Fatalf("membership changed on idempotent join: %d participants", got)
	}
}

func TestRequestJoinFromAnotherRoomPrompts(t *testing.T) {
	f, coord := newSwitchFixture(t)
	roomA := f.createRoom(t, "alpha", "leader-a")
	roomB := f.createRoom(t, "beta", "leader-b")
	f.join(t, roomA, "bob")

	prompt, err := coord.RequestJoin(context.Background(), "bob", "bob", 1, roomB)
	if err != nil {
		t.Fatalf("RequestJoin: %v", err)
	}
	if prompt == nil || prompt.FromRoomID != roomA || prompt.TargetRoomID != roomB {
		t.Fatalf("prompt = %+v, want switch %s -> %s", prompt, roomA, roomB)
	}
	if prompt.FromRoomName != "alpha" || prompt.TargetRoomName != "beta" {
		t.Fatalf("prompt names = %q -> %q", prompt.FromRoomName, prompt.TargetRoomName)
	}
	// Nothing moved yet.
	if _, ok := f.room(t, roomB).Participants["bob"]; ok {
		t.Fatal("bob joined target before confirmation")
	}
}

func TestConfirmMovesUserAndHandsOffLeadership(t *testing.T) {
	f, coord := newSwitchFixture(t)
	ctx := context.Background()
	roomA := f.createRoom(t, "alpha", "bob") // bob leads A
	f.join(t, roomA, "carol")
	roomB := f.createRoom(t, "beta", "leader-b")

	if _, err := coord.RequestJoin(ctx, "bob", "bob", 1, roomB); err != nil {
		t.Fatalf("RequestJoin: %v", err)
	}
	got, err := coord.Confirm(ctx, "bob", "bob", 1)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if got != roomB {
		t.Fatalf("confirmed into %s, want %s", got, roomB)
	}

	oldRoom := f.room(t, roomA)
	if _, still := oldRoom.Participants["bob"]; still {
		t.Fatal("bob still in old room")
	}
	if oldRoom.RoomLeaderID != "carol" {
		t.Fatalf("old room leader = %q, want carol", oldRoom.RoomLeaderID)
	}
	if _, ok := f.room(t, roomB).Participants["bob"]; !ok {
		t.Fatal("bob missing from target room")
	}
	current, err := f.membership.ResolveCurrentRoom(ctx, "bob")
	if err != nil || current != roomB {
		t.Fatalf("ResolveCurrentRoom = (%q, %v), want %s", current, err, roomB)
	}
}

func TestConfirmLastMemberDeletesOldRoom(t *testing.T) {
	f, coord := newSwitchFixture(t)
	ctx := context.Background()
	roomA := f.createRoom(t, "alpha", "bob")
	roomB := f.createRoom(t, "beta", "leader-b")

	if _, err := coord.RequestJoin(ctx, "bob", "bob", 1, roomB); err != nil {
		t.Fatalf("RequestJoin: %v", err)
	}
	if _, err := coord.Confirm(ctx, "bob", "bob", 1); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if _, err := f.stores.Rooms.Get(ctx, roomA); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("old room survived last-member switch: err = %v", err)
	}
}

func TestCancelLeavesBothRoomsUntouched(t *testing.T) {
	f, coord := newSwitchFixture(t)
	ctx := context.Background()
	roomA := f.createRoom(t, "alpha", "leader-a")
	roomB := f.createRoom(t, "beta", "leader-b")
	f.join(t, roomA, "bob")

	if _, err := coord.RequestJoin(ctx, "bob", "bob", 1, roomB); err != nil {
		t.Fatalf("RequestJoin: %v", err)
	}
	coord.Cancel("bob")

	if _, ok := f.room(t, roomA).Participants["bob"]; !ok {
		t.Fatal("bob removed from old room on cancel")
	}
	if _, ok := f.room(t, roomB).Participants["bob"]; ok {
		t.Fatal("bob joined target room on cancel")
	}
	// The withdrawn proposal must not be confirmable.
	if _, err := coord.Confirm(ctx, "bob", "bob", 1); !errors.Is(err, domain.ErrNoPendingSwitch) {
		t.Fatalf("confirm after cancel: err = %v, want ErrNoPendingSwitch", err)
	}
}

func TestConfirmWithoutProposal(t *testing.T) {
	_, coord := newSwitchFixture(t)
	if _, err := coord.Confirm(context.Background(), "bob", "bob", 1); !errors.Is(err, domain.ErrNoPendingSwitch) {
		t.Fatalf("err = %v, want ErrNoPendingSwitch", err)
	}
}

func TestRequestCreateWithoutCurrentRoomCreates(t *testing.T) {
	f, coord := newSwitchFixture(t)
	req := domain.PendingRoomCreation{Name: "mine", Genre: "history", ClassType: domain.ClassOfficial, UnitID: "unit-1"}

	roomID, prompt, err := coord.RequestCreate(context.Background(), "bob", "bob", 1, req)
	if err != nil {
		t.Fatalf("RequestCreate: %v", err)
	}
	if prompt != nil || roomID == "" {
		t.Fatalf("free user create = (%q, %+v), want immediate room", roomID, prompt)
	}
	if f.room(t, roomID).RoomLeaderID != "bob" {
		t.Fatal("creator is not leader")
	}
}

func TestRequestCreateAllocatesFreshRoomDespiteOpenMatch(t *testing.T) {
	f, coord := newSwitchFixture(t)
	ctx := context.Background()
	existing := f.createRoom(t, "someone elses", "host")
	req := domain.PendingRoomCreation{Name: "mine", Genre: "history", ClassType: domain.ClassOfficial, UnitID: "unit-1"}

	roomID, prompt, err := coord.RequestCreate(ctx, "bob", "bob", 1, req)
	if err != nil {
		t.Fatalf("RequestCreate: %v", err)
	}
	if prompt != nil {
		t.Fatalf("unexpected prompt: %+v", prompt)
	}
	if roomID == existing {
		t.Fatal("explicit create merged into an existing room")
	}
	room := f.room(t, roomID)
	if room.RoomLeaderID != "bob" || room.Name != "mine" {
		t.Fatalf("created room = leader %q name %q, want bob leading \"mine\"", room.RoomLeaderID, room.Name)
	}
	if _, ok := f.room(t, existing).Participants["bob"]; ok {
		t.Fatal("bob leaked into the open room")
	}
}

func TestRequestMatchmakeJoinsOpenRoom(t *testing.T) {
	f, coord := newSwitchFixture(t)
	ctx := context.Background()
	existing := f.createRoom(t, "open", "host")
	req := domain.PendingRoomCreation{Name: "mine", Genre: "history", ClassType: domain.ClassOfficial, UnitID: "unit-1"}

	roomID, prompt, err := coord.RequestMatchmake(ctx, "bob", "bob", 1, req)
	if err != nil {
		t.Fatalf("RequestMatchmake: %v", err)
	}
	if prompt != nil {
		t.Fatalf("unexpected prompt: %+v", prompt)
	}
	if roomID != existing {
		t.Fatalf("matchmake landed in %s, want open room %s", roomID, existing)
	}
}

func TestConfirmPendingCreationStashesAndResumes(t *testing.T) {
	f, coord := newSwitchFixture(t)
	ctx := context.Background()
	roomA := f.createRoom(t, "alpha", "leader-a")
	f.join(t, roomA, "bob")
	req := domain.PendingRoomCreation{Name: "mine", Genre: "science", ClassType: domain.ClassOfficial, UnitID: "unit-9"}

	roomID, prompt, err := coord.RequestCreate(ctx, "bob", "bob", 1, req)
	if err != nil {
		t.Fatalf("RequestCreate: %v", err)
	}
	if roomID != "" || prompt == nil || prompt.TargetRoomID != PendingCreationTarget {
		t.Fatalf("busy-user create = (%q, %+v), want pending-creation prompt", roomID, prompt)
	}

	got, err := coord.Confirm(ctx, "bob", "bob", 1)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if got != "" {
		t.Fatalf("pending-creation confirm returned room %q, want empty hub signal", got)
	}
	if _, still := f.room(t, roomA).Participants["bob"]; still {
		t.Fatal("bob still in old room after confirm")
	}

	// An open matching room must not swallow the resumed explicit creation.
	decoy, err := f.registry.CreateRoom(ctx, "decoy", "science", domain.ClassOfficial, "host", "host", 1, "unit-9")
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}

	newRoom, resumed, err := coord.ResumePendingCreation(ctx, "bob", "bob", 1)
	if err != nil {
		t.Fatalf("ResumePendingCreation: %v", err)
	}
	if !resumed || newRoom == "" {
		t.Fatalf("resume = (%q, %v), want a created room", newRoom, resumed)
	}
	if newRoom == decoy {
		t.Fatal("resumed creation merged into an open room")
	}
	room := f.room(t, newRoom)
	if room.Genre != "science" || room.UnitID != "unit-9" || room.RoomLeaderID != "bob" {
		t.Fatalf("resumed room = %+v, want bob leading science/unit-9", room)
	}

	// The stash is consumed; a second resume is a no-op.
	if _, again, err := coord.ResumePendingCreation(ctx, "bob", "bob", 1); err != nil || again {
		t.Fatalf("second resume = (%v, %v), want consumed stash", again, err)
	}
}
