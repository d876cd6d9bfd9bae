package model

// ContactRelation 联系人关系，按方向各存一行
// 两侧必须同进同退：添加、删除、改角色都在同一事务内写双行
// 不变量：IsResponder 与 IsDependent 至少一个为 true
type ContactRelation struct {
	BaseModel
	OwnerID     int64 `gorm:"not null;uniqueIndex:idx_contact_relations_pair" json:"owner_id"`
	ContactID   int64 `gorm:"not null;uniqueIndex:idx_contact_relations_pair;index:idx_contact_relations_contact" json:"contact_id"`
	IsResponder bool  `gorm:"not null;default:false" json:"is_responder"` // 对方是我的守护人
	IsDependent bool  `gorm:"not null;default:false" json:"is_dependent"` // 对方是我守护的人
	Version     int64 `gorm:"not null;default:0" json:"-"`                // 乐观锁版本号
}

// TableName 指定表名
func (ContactRelation) TableName() string {
	return "contact_relations"
}

// ContactRole 可切换的角色
type ContactRole string

const (
	ContactRoleResponder ContactRole = "responder"
	ContactRoleDependent ContactRole = "dependent"
)

func (r ContactRole) Valid() bool {
	return r == ContactRoleResponder || r == ContactRoleDependent
}
