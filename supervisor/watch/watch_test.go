package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestArmQueueDirectoryActivatesImmediatelyWhenNonEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "item"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Arm(QueueDirectory, dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Disarm()

	select {
	case evt := <-s.Events:
		if !evt.Activate {
			t.Fatal("expected immediate activation for non-empty queue directory")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for synchronous activation")
	}
}

func TestArmQueueDirectoryEmptyDoesNotActivate(t *testing.T) {
	dir := t.TempDir()

	s, err := Arm(QueueDirectory, dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Disarm()

	select {
	case evt := <-s.Events:
		t.Fatalf("unexpected event on empty queue directory: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestQueueDirectoryWriteActivates(t *testing.T) {
	dir := t.TempDir()

	s, err := Arm(QueueDirectory, dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Disarm()

	if err := os.WriteFile(filepath.Join(dir, "new-item"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-s.Events:
		if !evt.Activate {
			t.Fatal("expected activation after write into queue directory")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for queue directory event")
	}
}

func TestWatchPathDeleteInvalidatesDescriptor(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "watched")
	if err := os.WriteFile(target, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Arm(WatchPath, target)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(target); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-s.Events:
		if !evt.Activate || evt.Op != OpDelete {
			t.Fatalf("expected delete activation, got %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delete event")
	}

	if s.Armed() {
		t.Fatal("expected descriptor to be disarmed after delete")
	}
}

func TestCheckNonEmpty(t *testing.T) {
	dir := t.TempDir()

	nonEmpty, err := CheckNonEmpty(dir)
	if err != nil {
		t.Fatal(err)
	}
	if nonEmpty {
		t.Fatal("expected empty directory to report non-empty=false")
	}

	if err := os.WriteFile(filepath.Join(dir, "item"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	nonEmpty, err = CheckNonEmpty(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !nonEmpty {
		t.Fatal("expected non-empty directory to report non-empty=true")
	}
}
