package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type SenderType string

const (
	SenderUser    SenderType = "user"
	SenderCompany SenderType = "company"
	SenderAdmin   SenderType = "admin"
)

func (s SenderType) Valid() bool {
	switch s {
	case SenderUser, SenderCompany, SenderAdmin:
		return true
	}
	return false
}

type MessageType string

const (
	MessageText               MessageType = "text"
	MessageImage              MessageType = "image"
	MessageFile               MessageType = "file"
	MessageCompanyProfile     MessageType = "company_profile"
	MessageInvoice            MessageType = "invoice"
	MessageSystemNotification MessageType = "system_notification"
)

func (m MessageType) Valid() bool {
	switch m {
	case MessageText, MessageImage, MessageFile, MessageCompanyProfile, MessageInvoice, MessageSystemNotification:
		return true
	}
	return false
}

// Message is immutable after insert except for IsRead. Seq is the per-room
// append position and defines log order.
type Message struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ChatRoomID uuid.UUID `gorm:"type:uuid;column:chat_room_id;not null;index;uniqueIndex:idx_message_room_seq,priority:1" json:"chatRoomId"`
	Seq        int64     `gorm:"column:seq;not null;uniqueIndex:idx_message_room_seq,priority:2" json:"seq"`

	SenderID    uuid.UUID      `gorm:"type:uuid;column:sender_id;not null;index" json:"senderId"`
	SenderType  SenderType     `gorm:"column:sender_type;not null" json:"senderType"`
	Content     string         `gorm:"column:content;type:text;not null" json:"content"`
	MessageType MessageType    `gorm:"column:message_type;not null" json:"messageType"`
	Payload     datatypes.JSON `gorm:"column:payload" json:"payload,omitempty"`

	// Optional client idempotency key; unique per room+sender when set.
	ClientMessageID string `gorm:"column:client_message_id;not null;default:''" json:"clientMessageId,omitempty"`

	IsRead    bool      `gorm:"column:is_read;not null;default:false" json:"isRead"`
	CreatedAt time.Time `gorm:"not null;index" json:"createdAt"`
}

func (Message) TableName() string {
	return "message"
}

// CompanyProfileCard is the payload of a company_profile message.
type CompanyProfileCard struct {
	CompanyID   uuid.UUID `json:"companyId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Rating      float64   `json:"rating,omitempty"`
	LogoURL     string    `json:"logoUrl,omitempty"`
}

// InvoiceCard is the payload of an invoice message.
type InvoiceCard struct {
	InvoiceID   string  `json:"invoiceId"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Status      string  `json:"status,omitempty"`
	DownloadURL string  `json:"downloadUrl,omitempty"`
}

// Attachment is the payload of image and file messages.
type Attachment struct {
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size"`

	// Storage object keys, kept server side.
	Key          string `json:"-"`
	ThumbnailKey string `json:"-"`
}
