package world

import (
	"sync"

	"go.uber.org/zap"
)

const MaxPartySize = 6

// PartyInfo tracks a group of players.
type PartyInfo struct {
	PartyID  int32
	LeaderID int32
	Members  []int32 // CharIDs of all members (including leader)
}

// PartyManager is the party-membership collaborator consumed by drop
// ownership checks and map-transfer notifications. Unlike the field-local
// pools it is process-wide, so it carries its own lock.
type PartyManager struct {
	log *zap.Logger

	mu          sync.Mutex
	parties     map[int32]*PartyInfo // partyID → party
	playerParty map[int32]int32      // charID → partyID
	nextID      int32
}

func NewPartyManager(log *zap.Logger) *PartyManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &PartyManager{
		log:         log,
		parties:     make(map[int32]*PartyInfo),
		playerParty: make(map[int32]int32),
	}
}

// PartyOf returns the party id a player belongs to, or 0.
func (m *PartyManager) PartyOf(charID int32) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playerParty[charID]
}

// IsMember reports whether charID belongs to partyID.
func (m *PartyManager) IsMember(partyID, charID int32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return partyID != 0 && m.playerParty[charID] == partyID
}

// CreateParty creates a new party led by leaderID and returns it.
func (m *PartyManager) CreateParty(leaderID int32) *PartyInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p := &PartyInfo{
		PartyID:  m.nextID,
		LeaderID: leaderID,
		Members:  []int32{leaderID},
	}
	m.parties[p.PartyID] = p
	m.playerParty[leaderID] = p.PartyID
	return p
}

// AddMember adds a player to an existing party. Returns false if full or
// the party does not exist.
func (m *PartyManager) AddMember(partyID, charID int32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.parties[partyID]
	if p == nil || len(p.Members) >= MaxPartySize {
		return false
	}
	p.Members = append(p.Members, charID)
	m.playerParty[charID] = partyID
	return true
}

// RemoveMember removes a single player from their party. Dissolves the
// party when the last member leaves.
func (m *PartyManager) RemoveMember(charID int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pid, ok := m.playerParty[charID]
	if !ok {
		return
	}
	delete(m.playerParty, charID)
	p := m.parties[pid]
	if p == nil {
		return
	}
	for i, id := range p.Members {
		if id == charID {
			p.Members = append(p.Members[:i], p.Members[i+1:]...)
			break
		}
	}
	if len(p.Members) == 0 {
		delete(m.parties, pid)
	}
}

// NotifyTransferField reports a member's map transfer so party HUDs can be
// refreshed. Fields call this on every admission; membership itself is
// unaffected. HUD refresh packets belong to the party channel service.
func (m *PartyManager) NotifyTransferField(charID, fieldID int32) {
	if m.PartyOf(charID) == 0 {
		return
	}
	m.log.Debug("隊員轉移地圖", zap.Int32("角色", charID), zap.Int32("地圖", fieldID))
}
