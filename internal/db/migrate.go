package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/hammad983ae/localease-service-hub-sub000/internal/types"
)

// Partial unique indexes gorm cannot express portably. Both statements are
// valid on PostgreSQL and SQLite.
var partialIndexes = []struct {
	name string
	sql  string
}{
	{
		// At most one active room per booking.
		name: "idx_chat_room_active_booking",
		sql: `CREATE UNIQUE INDEX IF NOT EXISTS idx_chat_room_active_booking
      ON chat_room (booking_id) WHERE is_active = true`,
	},
	{
		name: "idx_message_client_message_id",
		sql: `CREATE UNIQUE INDEX IF NOT EXISTS idx_message_client_message_id
      ON message (chat_room_id, sender_id, client_message_id) WHERE client_message_id <> ''`,
	},
}

// Migrate creates every table the chat service touches. Referential
// integrity between message and chat_room is checked by the append
// transaction, so no foreign keys are added.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&types.User{},
		&types.Company{},
		&types.Booking{},
		&types.ChatRoom{},
		&types.Message{},
	); err != nil {
		return fmt.Errorf("failed to auto migrate base tables: %w", err)
	}
	for _, idx := range partialIndexes {
		if err := db.Exec(idx.sql).Error; err != nil {
			return fmt.Errorf("failed to create %s: %w", idx.name, err)
		}
	}
	return nil
}
