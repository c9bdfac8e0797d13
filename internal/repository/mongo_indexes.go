package repository

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// インデックス名。重複キーエラーの判定にも使う。
const (
	usernameIndexName      = "users_username_unique"
	googleIDIndexName      = "users_google_id_unique"
	sessionExpiryIndexName = "sessions_expires_at_ttl"
	sessionUserIndexName   = "sessions_user_id"
)

// EnsureMongoIndexes はusers・sessionsコレクションに必要なインデックスを作成する。
// 既存の同一定義インデックスがあれば何もしない。
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(usersCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetName(usernameIndexName).SetUnique(true),
		},
		{
			// google_idはomitemptyで保存されるため、存在するドキュメントのみ一意にする
			Keys: bson.D{{Key: "google_id", Value: 1}},
			Options: options.Index().SetName(googleIDIndexName).SetUnique(true).
				SetPartialFilterExpression(bson.M{"google_id": bson.M{"$exists": true}}),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create user indexes: %w", err)
	}

	_, err = db.Collection(sessionsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetName(sessionExpiryIndexName).SetExpireAfterSeconds(0),
		},
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetName(sessionUserIndexName),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create session indexes: %w", err)
	}

	return nil
}
