package room

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

var adjectives = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
	"golden", "silver", "crimson", "emerald", "purple", "blue", "red", "green", "bright", "gentle",
	"brave", "calm", "swift", "silent", "noisy", "bouncy", "fuzzy", "plucky", "merry", "peppy",
}

var creatures = []string{
	"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
	"penguin", "flamingo", "pelican", "sparrow", "robin", "toucan", "parrot", "dolphin", "whale", "narwhal",
	"dragon", "unicorn", "griffin", "phoenix", "gnome", "sprite", "pixie", "mermaid", "comet", "nebula",
}

// Nickname turns a peer id into a stable, human friendly label such as
// "sleepy-otter".
func Nickname(id string) string {
	sum := sha256.Sum256([]byte(id))
	a := binary.BigEndian.Uint32(sum[0:4])
	c := binary.BigEndian.Uint32(sum[4:8])
	return fmt.Sprintf("%s-%s",
		adjectives[a%uint32(len(adjectives))],
		creatures[c%uint32(len(creatures))])
}
