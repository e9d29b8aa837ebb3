package game

import "unicode/utf16"

// Palette 玩家颜色表
var Palette = []string{
	"#3B82F6", "#10B981", "#F59E0B", "#EF4444", "#8B5CF6",
	"#06B6D4", "#84CC16", "#F97316", "#EC4899", "#6366F1",
}

// NickHash 昵称哈希，逐个 UTF-16 码元计算 hash = c + ((hash<<5) - hash)。
// 左移前先截成 int32 并在 int32 内回绕，减法与加法不截断，与浏览器端结果一致。
func NickHash(nick string) int64 {
	var hash int64
	for _, c := range utf16.Encode([]rune(nick)) {
		shifted := int64(int32(uint32(hash)) << 5)
		hash = int64(c) + (shifted - hash)
	}
	return hash
}

// ColorForNick 按昵称哈希取色，同一昵称永远得到同一颜色
func ColorForNick(nick string) string {
	hash := NickHash(nick)
	if hash < 0 {
		hash = -hash
	}
	return Palette[hash%int64(len(Palette))]
}
