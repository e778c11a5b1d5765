package directory

import "time"

// Store mirrors the stores table.
type Store struct {
	StoreID        string    `gorm:"primaryKey"`
	OwnerAccountID string    `gorm:"not null;index:idx_stores_owner"`
	Name           string    `gorm:"size:100;not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

func (Store) TableName() string { return "stores" }

// CustomerWallet mirrors the customer_wallets table.
type CustomerWallet struct {
	WalletID  string    `gorm:"primaryKey"`
	Name      string    `gorm:"size:100;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (CustomerWallet) TableName() string { return "customer_wallets" }

// WalletStampCard mirrors the wallet_stamp_cards table: a wallet's enrollment
// in one store's stamp card. It is the resource issuance and migration
// requests act on.
type WalletStampCard struct {
	CardID    string    `gorm:"primaryKey"`
	WalletID  string    `gorm:"not null;index:idx_cards_wallet"`
	StoreID   string    `gorm:"not null;index:idx_cards_store"`
	CreatedAt time.Time `gorm:"not null"`
}

func (WalletStampCard) TableName() string { return "wallet_stamp_cards" }

// WalletReward mirrors the wallet_rewards table: an earned reward instance,
// the resource redemption requests act on.
type WalletReward struct {
	RewardID  string    `gorm:"primaryKey"`
	WalletID  string    `gorm:"not null;index:idx_rewards_wallet"`
	StoreID   string    `gorm:"not null;index:idx_rewards_store"`
	Title     string    `gorm:"size:100;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (WalletReward) TableName() string { return "wallet_rewards" }
