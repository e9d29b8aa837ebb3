package game

import (
	"fmt"

	"github.com/wfunc/cookie-catcher/internal/models"
)

// MaxNickAttempts 生成不重复昵称的最大尝试次数
const MaxNickAttempts = 10

// WordBank 三段式昵称词库
type WordBank struct {
	positions [3][]string
}

// NewWordBank 按 position 分组，任一段为空时返回错误
func NewWordBank(words []models.NicknameWord) (*WordBank, error) {
	wb := &WordBank{}
	for _, w := range words {
		if w.Position < 1 || w.Position > 3 {
			continue
		}
		wb.positions[w.Position-1] = append(wb.positions[w.Position-1], w.Word)
	}
	for i, list := range wb.positions {
		if len(list) == 0 {
			return nil, fmt.Errorf("昵称词库第%d段为空", i+1)
		}
	}
	return wb, nil
}

// Compose 随机组合一个昵称
func (wb *WordBank) Compose(r Rand) string {
	return wb.positions[0][r.Intn(len(wb.positions[0]))] +
		wb.positions[1][r.Intn(len(wb.positions[1]))] +
		wb.positions[2][r.Intn(len(wb.positions[2]))]
}

// ComposeWithSuffix 重试用尽后的兜底昵称，追加 0-99 的数字
func (wb *WordBank) ComposeWithSuffix(r Rand) string {
	return fmt.Sprintf("%s%d", wb.Compose(r), r.Intn(100))
}

// PickNick 尝试 MaxNickAttempts 次找未被占用的昵称，失败时返回带数字后缀的昵称
func (wb *WordBank) PickNick(r Rand, taken func(nick string) (bool, error)) (string, error) {
	for attempt := 0; attempt < MaxNickAttempts; attempt++ {
		candidate := wb.Compose(r)
		exists, err := taken(candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return wb.ComposeWithSuffix(r), nil
}
