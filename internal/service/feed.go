package service

// 变更事件类型
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// 变更涉及的表
const (
	TableRooms   = "rooms"
	TableCookies = "cookies"
	TableScores  = "scores"
)

// ChangeFeed 表变更推送，由实时 Hub 实现
type ChangeFeed interface {
	PublishChange(roomID, table, event string, newRow, oldRow interface{})
}

// NopFeed 丢弃所有变更
type NopFeed struct{}

// PublishChange 不做任何事
func (NopFeed) PublishChange(roomID, table, event string, newRow, oldRow interface{}) {}

// deletedRow DELETE 事件的 old 只带主键
type deletedRow struct {
	ID string `json:"id"`
}
