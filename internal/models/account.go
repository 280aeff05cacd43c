package models

import "time"

type Account struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// AccountConfig holds the account's single cloud credential.
type AccountConfig struct {
	Cookie     string    `json:"cookie"`
	RemoteName string    `json:"name"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ShareListing is what the remote reports for a share.
type ShareListing struct {
	FileIDs []string
	Title   string
}

type TransferResult struct {
	Count int
}

type Folder struct {
	ID   string `json:"cid"`
	Name string `json:"name"`
}
