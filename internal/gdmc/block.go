package gdmc

import (
	"fmt"
	"maps"
	"sort"
	"strings"
)

const DefaultNamespace = "minecraft"

// Block is a block state as the interface reports and accepts it.
type Block struct {
	ID     string            `json:"id"`
	States map[string]string `json:"state,omitempty"`
	Data   string            `json:"data,omitempty"`
}

var Air = NewBlock("air")

// NewBlock returns a stateless block; ids without a namespace get "minecraft:".
func NewBlock(id string) Block {
	return Block{ID: normalizeID(id)}
}

// ParseBlock accepts "oak_log", "minecraft:oak_log", "ladder[facing=north]"
// and an optional trailing SNBT data tag, e.g. "chest[facing=east]{Items:[]}".
func ParseBlock(s string) (Block, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Block{}, fmt.Errorf("empty block")
	}
	var b Block
	if i := strings.IndexByte(s, '{'); i >= 0 {
		if !strings.HasSuffix(s, "}") {
			return Block{}, fmt.Errorf("block %q: unterminated data tag", s)
		}
		b.Data = s[i:]
		s = s[:i]
	}
	if i := strings.IndexByte(s, '['); i >= 0 {
		if !strings.HasSuffix(s, "]") {
			return Block{}, fmt.Errorf("block %q: unterminated state list", s)
		}
		states := s[i+1 : len(s)-1]
		s = s[:i]
		if strings.TrimSpace(states) != "" {
			b.States = map[string]string{}
			for _, kv := range strings.Split(states, ",") {
				k, v, ok := strings.Cut(kv, "=")
				k, v = strings.TrimSpace(k), strings.TrimSpace(v)
				if !ok || k == "" || v == "" {
					return Block{}, fmt.Errorf("block %q: bad state %q", s, kv)
				}
				b.States[k] = v
			}
		}
	}
	if strings.TrimSpace(s) == "" {
		return Block{}, fmt.Errorf("block: missing id")
	}
	b.ID = normalizeID(s)
	return b, nil
}

// MustParseBlock is ParseBlock for literals known to be valid.
func MustParseBlock(s string) Block {
	b, err := ParseBlock(s)
	if err != nil {
		panic(err)
	}
	return b
}

// Is reports whether the id contains substr ("log" matches "minecraft:oak_log").
func (b Block) Is(substr string) bool { return strings.Contains(b.ID, substr) }

func (b Block) IsAir() bool {
	switch b.ID {
	case "", "minecraft:air", "minecraft:cave_air", "minecraft:void_air":
		return true
	}
	return false
}

func (b Block) Equal(o Block) bool {
	return b.ID == o.ID && b.Data == o.Data && maps.Equal(b.States, o.States)
}

func (b Block) String() string {
	if len(b.States) == 0 {
		return b.ID + b.Data
	}
	keys := make([]string, 0, len(b.States))
	for k := range b.States {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteString(b.ID)
	sb.WriteByte('[')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(b.States[k])
	}
	sb.WriteByte(']')
	sb.WriteString(b.Data)
	return sb.String()
}

// PlacedBlock is a block at an absolute world position.
type PlacedBlock struct {
	Pos   Vec3
	Block Block
}

func normalizeID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" || strings.Contains(id, ":") {
		return id
	}
	return DefaultNamespace + ":" + id
}
