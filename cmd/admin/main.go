package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"chatlink/backend/internal/config"
	"chatlink/backend/internal/storage"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	storageSvc := storage.NewStorageService(db, nil) // No redis needed for admin CLI

	if len(os.Args) < 2 {
		fmt.Println("Usage: admin <command> [args]")
		fmt.Println("Commands: user <username> | repair-presence | history <chat_id> [limit]")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "user":
		if len(os.Args) != 3 {
			fmt.Println("Usage: admin user <username>")
			os.Exit(1)
		}
		if err := showUser(storageSvc, os.Args[2]); err != nil {
			log.Fatalf("Error looking up user: %v", err)
		}
	case "repair-presence":
		n, err := repairPresence(storageSvc)
		if err != nil {
			log.Fatalf("Error repairing presence: %v", err)
		}
		fmt.Printf("Cleared online flag for %d user(s).\n", n)
	case "history":
		if len(os.Args) < 3 {
			fmt.Println("Usage: admin history <chat_id> [limit]")
			os.Exit(1)
		}
		limit := 50
		if len(os.Args) > 3 {
			limit, err = strconv.Atoi(os.Args[3])
			if err != nil {
				fmt.Println("Invalid limit. Please provide an integer.")
				os.Exit(1)
			}
		}
		if err := showHistory(storageSvc, os.Args[2], limit); err != nil {
			log.Fatalf("Error listing history: %v", err)
		}
	default:
		fmt.Println("Unknown command")
		os.Exit(1)
	}
}

func showUser(s storage.Storage, username string) error {
	user, err := s.GetUserByUsername(username)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user %q not found", username)
	}
	out, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// repairPresence clears online flags left behind by a crashed server. Safe to
// run while the server is down; running it against a live server kicks
// everyone's indicator until they reconnect.
func repairPresence(s storage.Storage) (int, error) {
	stale, err := s.ListOnlineUsers()
	if err != nil {
		return 0, err
	}
	now := time.Now()
	for _, user := range stale {
		if err := s.SetPresence(user.ID, false, now); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

func showHistory(s storage.Storage, chatID string, limit int) error {
	chat, err := s.GetChatByID(chatID)
	if err != nil {
		return err
	}
	if chat == nil {
		return fmt.Errorf("chat %q not found", chatID)
	}
	msgs, err := s.ListMessages(chatID, limit)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		fmt.Printf("%s  %s  [%s] %s\n", m.CreatedAt.Format(time.RFC3339), m.SenderID, m.Type, m.Content)
	}
	return nil
}
