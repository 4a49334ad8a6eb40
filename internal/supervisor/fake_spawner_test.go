package supervisor

import (
	"context"
	"fmt"
	"sync"

	"github.com/sealteam/sealteam/internal/models"
)

// fakeSpawner never touches the OS: it hands back a Done channel the
// test controls directly, keyed by the spawned agent's name, and
// records every SpawnAgent call (including its resumeFrom value) for
// assertions.
type fakeSpawner struct {
	mu       sync.Mutex
	nextPID  int
	spawns   []fakeSpawnCall
	doneChan map[string]chan ProcessExit
}

type fakeSpawnCall struct {
	Name       string
	ResumeFrom string
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{nextPID: 100, doneChan: make(map[string]chan ProcessExit)}
}

func (f *fakeSpawner) SpawnAgent(_ context.Context, cfg models.AgentConfig, resumeFrom string) (ProcessHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextPID++
	pid := f.nextPID
	done := make(chan ProcessExit, 1)
	f.doneChan[cfg.Name] = done
	f.spawns = append(f.spawns, fakeSpawnCall{Name: cfg.Name, ResumeFrom: resumeFrom})
	return ProcessHandle{PID: pid, Done: done}, nil
}

// finish delivers an exit for the named agent's most recent spawn.
func (f *fakeSpawner) finish(name string, exit ProcessExit) {
	f.mu.Lock()
	ch := f.doneChan[name]
	f.mu.Unlock()
	if ch == nil {
		panic(fmt.Sprintf("fakeSpawner: no tracked process for %q", name))
	}
	ch <- exit
}

func (f *fakeSpawner) spawnCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.spawns {
		if c.Name == name {
			n++
		}
	}
	return n
}
