// Package directory resolves existence and ownership of stores, wallets, and
// request resources. It is read-only from the engine's point of view; all
// state mutation goes through the approval store.
package directory

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/stamp-kkookk/digital-stamp-service-sub000/pkg/approval"
)

const (
	errorOperationDirectory = "directory"
	errorSubjectStore       = "store"
	errorSubjectWallet      = "wallet"
	errorSubjectResource    = "resource"
	errorCodeGet            = "get"
	errorCodeInvalid        = "invalid"
)

// Directory implements approval.Directory using GORM.
type Directory struct {
	db *gorm.DB
}

// New returns a Directory backed by gorm.DB.
func New(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// StoreOwner returns the owning operator account for a store.
func (directory *Directory) StoreOwner(ctx context.Context, storeID approval.StoreID) (approval.OperatorID, error) {
	var model Store
	err := directory.db.WithContext(ctx).
		Where("store_id = ?", storeID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return approval.OperatorID{}, wrapDirectoryError(errorSubjectStore, errorCodeGet, approval.ErrUnknownStore)
		}
		return approval.OperatorID{}, wrapDirectoryError(errorSubjectStore, errorCodeGet, err)
	}
	operatorID, err := approval.NewOperatorID(model.OwnerAccountID)
	if err != nil {
		return approval.OperatorID{}, wrapDirectoryError(errorSubjectStore, errorCodeInvalid, err)
	}
	return operatorID, nil
}

// ResolveResource maps a resource id to its owning wallet and store. Issuance
// and migration act on wallet stamp cards; redemption acts on wallet rewards.
func (directory *Directory) ResolveResource(ctx context.Context, kind approval.Kind, resourceID approval.ResourceID) (approval.ResourceInfo, error) {
	switch kind {
	case approval.KindIssuance, approval.KindMigration:
		var card WalletStampCard
		err := directory.db.WithContext(ctx).
			Where("card_id = ?", resourceID.String()).
			Take(&card).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return approval.ResourceInfo{}, wrapDirectoryError(errorSubjectResource, errorCodeGet, approval.ErrUnknownResource)
			}
			return approval.ResourceInfo{}, wrapDirectoryError(errorSubjectResource, errorCodeGet, err)
		}
		return buildResourceInfo(card.WalletID, card.StoreID)
	case approval.KindRedemption:
		var reward WalletReward
		err := directory.db.WithContext(ctx).
			Where("reward_id = ?", resourceID.String()).
			Take(&reward).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return approval.ResourceInfo{}, wrapDirectoryError(errorSubjectResource, errorCodeGet, approval.ErrUnknownResource)
			}
			return approval.ResourceInfo{}, wrapDirectoryError(errorSubjectResource, errorCodeGet, err)
		}
		return buildResourceInfo(reward.WalletID, reward.StoreID)
	}
	return approval.ResourceInfo{}, wrapDirectoryError(errorSubjectResource, errorCodeInvalid, approval.ErrInvalidKind)
}

// WalletName returns the display name shown on the terminal's pending list.
func (directory *Directory) WalletName(ctx context.Context, walletID approval.WalletID) (string, error) {
	var model CustomerWallet
	err := directory.db.WithContext(ctx).
		Where("wallet_id = ?", walletID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", wrapDirectoryError(errorSubjectWallet, errorCodeGet, approval.ErrUnknownWallet)
		}
		return "", wrapDirectoryError(errorSubjectWallet, errorCodeGet, err)
	}
	return model.Name, nil
}

func buildResourceInfo(walletID string, storeID string) (approval.ResourceInfo, error) {
	parsedWalletID, err := approval.NewWalletID(walletID)
	if err != nil {
		return approval.ResourceInfo{}, wrapDirectoryError(errorSubjectResource, errorCodeInvalid, err)
	}
	parsedStoreID, err := approval.NewStoreID(storeID)
	if err != nil {
		return approval.ResourceInfo{}, wrapDirectoryError(errorSubjectResource, errorCodeInvalid, err)
	}
	return approval.ResourceInfo{WalletID: parsedWalletID, StoreID: parsedStoreID}, nil
}

func wrapDirectoryError(subject string, code string, err error) error {
	return approval.WrapError(errorOperationDirectory, subject, code, err)
}
