package main

import (
	"encoding/json"
	"fmt"
	"strings"
)

// socketIDKey is the field relating a stored member entry to the
// connection that produced it. It is internal bookkeeping and is
// stripped from every member payload emitted to clients.
const socketIDKey = "socketId"

// member is the application-level identity attached to a presence
// subscription. The auth endpoint supplies it as channel_data, normally
// a JSON object carrying the identity key ("user_id" by default).
type member map[string]interface{}

// parseMember resolves the channel_data variant: a JSON object is used
// as-is; anything else (a bare string, invalid JSON) is recovered by
// storing the raw text under the identity key so it still deduplicates.
func parseMember(data []byte, identityKey string) member {
	if len(data) == 0 {
		return nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err == nil {
		return member(obj)
	}
	// channel_data is commonly a JSON string that itself contains the
	// encoded member object.
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if err := json.Unmarshal([]byte(str), &obj); err == nil {
			return member(obj)
		}
		if str == "" {
			return nil
		}
		return member{identityKey: str}
	}
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return nil
	}
	return member{identityKey: raw}
}

// identity returns the dedup key value as a string, or "" if absent.
func (mem member) identity(key string) string {
	v, ok := mem[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func (mem member) socketID() string {
	v, ok := mem[socketIDKey]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// withSocket returns a copy with the connection id attached, the form a
// member takes inside the stored list.
func (mem member) withSocket(id string) member {
	out := make(member, len(mem)+1)
	for k, v := range mem {
		out[k] = v
	}
	out[socketIDKey] = id
	return out
}

// stripped returns a copy without the socketId field, the form a member
// takes in every frame sent to clients.
func (mem member) stripped() member {
	out := make(member, len(mem))
	for k, v := range mem {
		if k == socketIDKey {
			continue
		}
		out[k] = v
	}
	return out
}

func decodeMembers(data []byte) ([]member, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var list []member
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode member list: %w", err)
	}
	return list, nil
}

func encodeMembers(list []member) ([]byte, error) {
	if list == nil {
		list = []member{}
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil, fmt.Errorf("encode member list: %w", err)
	}
	return data, nil
}

// dedupNewestFirst collapses the stored list to one entry per identity,
// preferring the most recently appended, and strips socket ids. This is
// the view emitted as the presence:subscribed member list.
func dedupNewestFirst(list []member, identityKey string) []member {
	seen := make(map[string]bool, len(list))
	out := make([]member, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		id := list[i].identity(identityKey)
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, list[i].stripped())
	}
	return out
}
