package main

import (
	"context"
	"sync"

	"github.com/taleforge/dungeonmaster/pkg/dm"
)

// memoryNPCStore is a minimal in-process dm.NPCStore for the demo CLI:
// every NPC starts from a blank dm.NPCState and accumulated memory lives
// only for the process lifetime. A deployed runtime backs this with the
// session store (C16) instead.
type memoryNPCStore struct {
	mu    sync.Mutex
	state map[string]dm.NPCState
}

func newMemoryNPCStore() *memoryNPCStore {
	return &memoryNPCStore{state: make(map[string]dm.NPCState)}
}

func (s *memoryNPCStore) Load(ctx context.Context, sessionID, npcID string) (dm.NPCState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.state[sessionID+"/"+npcID]; ok {
		return st, nil
	}
	return dm.NPCState{NPCID: npcID}, nil
}

func (s *memoryNPCStore) SaveMemory(ctx context.Context, sessionID, npcID string, delta []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sessionID + "/" + npcID
	st := s.state[key]
	st.NPCID = npcID
	st.Memory = append(st.Memory, delta...)
	s.state[key] = st
	return nil
}
