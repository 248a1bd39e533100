package node

// Preference returns the natural top-n preference list for key.
func (nd *Node) Preference(key string) []string {
	return nd.ring.Pref(key, nd.n)
}

// IsCoordinator reports whether nd is in key's natural preference list.
func (nd *Node) IsCoordinator(key string) bool {
	for _, id := range nd.Preference(key) {
		if id == nd.id {
			return true
		}
	}
	return false
}

// FirstAliveCoordinator returns the first candidate in key's preference
// list that is self or marked alive, and whether one exists.
func (nd *Node) FirstAliveCoordinator(key string) (string, bool) {
	for _, id := range nd.Preference(key) {
		if id == nd.id || nd.alive[id] {
			return id, true
		}
	}
	return "", false
}

// AlivePreference walks the ring from key taking up to |alive|+1 distinct
// candidates (enough to always surface n live ones if any exist at all),
// filters to self-or-alive, and returns the first n.
func (nd *Node) AlivePreference(key string) []string {
	total := len(nd.alive) + 1
	candidates := nd.ring.Pref(key, total)

	out := make([]string, 0, nd.n)
	for _, c := range candidates {
		if c == nd.id || nd.alive[c] {
			out = append(out, c)
			if len(out) == nd.n {
				break
			}
		}
	}
	return out
}

// HintedPeer pairs a node standing in for a request with the hint it should
// be sent, if any: Intended is empty when the peer is its own natural
// owner, and set to the dead natural owner's id when the peer is a
// substitute.
type HintedPeer struct {
	Node     string
	Intended string
}

// AlivePreferenceWithHints zips substitutes in the alive preference list to
// the dead natural owners they are standing in for, in order of appearance.
func (nd *Node) AlivePreferenceWithHints(key string) []HintedPeer {
	natural := nd.Preference(key)
	naturalSet := make(map[string]bool, len(natural))
	for _, id := range natural {
		naturalSet[id] = true
	}

	var deadOwners []string
	for _, id := range natural {
		if id != nd.id && !nd.alive[id] {
			deadOwners = append(deadOwners, id)
		}
	}

	alivePref := nd.AlivePreference(key)
	out := make([]HintedPeer, 0, len(alivePref))
	di := 0
	for _, id := range alivePref {
		if naturalSet[id] {
			out = append(out, HintedPeer{Node: id})
			continue
		}
		intended := ""
		if di < len(deadOwners) {
			intended = deadOwners[di]
			di++
		}
		out = append(out, HintedPeer{Node: id, Intended: intended})
	}
	return out
}

// markAlive flips a peer to alive. If it was previously dead, it triggers a
// hinted-handoff attempt toward it for every key whose stored context
// carries a matching hint.
func (nd *Node) markAlive(peer string) {
	if peer == nd.id {
		return
	}
	was := nd.alive[peer]
	nd.alive[peer] = true
	if !was {
		nd.attemptHandoff(peer)
	}
}

// markDead flips a peer to dead. Idempotent.
func (nd *Node) markDead(peer string) {
	if peer == nd.id {
		return
	}
	nd.alive[peer] = false
}
