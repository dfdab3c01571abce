package message

import "sort"

// Reactions maps a reaction key to the set of users who applied it. Each
// user list is kept sorted and free of duplicates.
type Reactions map[string][]string

// Add records userID under key. It reports whether anything changed, so a
// repeated add of the same pair is a no-op.
func (r *Reactions) Add(key, userID string) bool {
	if key == "" || userID == "" {
		return false
	}
	if *r == nil {
		*r = Reactions{}
	}
	users := (*r)[key]
	i := sort.SearchStrings(users, userID)
	if i < len(users) && users[i] == userID {
		return false
	}
	next := make([]string, 0, len(users)+1)
	next = append(next, users[:i]...)
	next = append(next, userID)
	next = append(next, users[i:]...)
	(*r)[key] = next
	return true
}

// Remove drops userID from key, deleting the key once nobody is left.
func (r *Reactions) Remove(key, userID string) bool {
	if *r == nil {
		return false
	}
	users := (*r)[key]
	i := sort.SearchStrings(users, userID)
	if i >= len(users) || users[i] != userID {
		return false
	}
	next := make([]string, 0, len(users)-1)
	next = append(next, users[:i]...)
	next = append(next, users[i+1:]...)
	if len(next) == 0 {
		delete(*r, key)
	} else {
		(*r)[key] = next
	}
	if len(*r) == 0 {
		*r = nil
	}
	return true
}

// Has reports whether userID reacted with key.
func (r Reactions) Has(key, userID string) bool {
	users := r[key]
	i := sort.SearchStrings(users, userID)
	return i < len(users) && users[i] == userID
}

func (r Reactions) Count(key string) int {
	return len(r[key])
}

// Clone returns a deep copy; nil stays nil.
func (r Reactions) Clone() Reactions {
	if r == nil {
		return nil
	}
	out := make(Reactions, len(r))
	for k, users := range r {
		out[k] = append([]string(nil), users...)
	}
	return out
}

// Normalize sorts and de-duplicates every user list, dropping empty keys.
// Used on data arriving from outside the process.
func (r Reactions) Normalize() Reactions {
	var out Reactions
	for key, users := range r {
		for _, u := range users {
			out.Add(key, u)
		}
	}
	return out
}
