package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/MikeSquared-Agency/debchat/internal/store"
)

type userDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Email     string             `bson:"email"`
	Name      string             `bson:"name,omitempty"`
	GoogleID  string             `bson:"googleId,omitempty"`
	Role      string             `bson:"role"`
	CreatedAt time.Time          `bson:"createdAt"`
	LastLogin *time.Time         `bson:"lastLogin,omitempty"`
}

func (d userDoc) toUser() store.User {
	role := store.Role(d.Role)
	if role == "" {
		role = store.RoleUser
	}
	return store.User{
		ID:          d.ID.Hex(),
		Email:       d.Email,
		Name:        d.Name,
		GoogleID:    d.GoogleID,
		Role:        role,
		CreatedAt:   d.CreatedAt,
		LastLoginAt: d.LastLogin,
	}
}

type modelConfigDoc struct {
	Temperature float64 `bson:"temperature"`
	MinP        float64 `bson:"min_p"`
	MaxTokens   int     `bson:"max_tokens"`
}

type modelDoc struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	Name          string             `bson:"name"`
	Description   string             `bson:"description"`
	Type          string             `bson:"type"`
	Endpoint      string             `bson:"endpoint,omitempty"`
	ProviderModel string             `bson:"providerModel,omitempty"`
	Status        string             `bson:"status"`
	Config        modelConfigDoc     `bson:"config"`
	CreatedAt     time.Time          `bson:"createdAt"`
	UpdatedAt     time.Time          `bson:"updatedAt"`
}

func (d modelDoc) toModel() store.Model {
	return store.Model{
		ID:            d.ID.Hex(),
		Name:          d.Name,
		Description:   d.Description,
		Kind:          d.Type,
		Endpoint:      d.Endpoint,
		ProviderModel: d.ProviderModel,
		Status:        store.ModelStatus(d.Status),
		Config: store.ModelConfig{
			Temperature: d.Config.Temperature,
			MinP:        d.Config.MinP,
			MaxTokens:   d.Config.MaxTokens,
		},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type adminDoc struct {
	Username string `bson:"username"`
	Email    string `bson:"email,omitempty"`
	Password string `bson:"password"`
}

func (s *Store) UpsertUser(ctx context.Context, login store.Login) (store.User, bool, error) {
	now := s.now().UTC()
	set := bson.M{"lastLogin": now, "email": login.Email}
	if login.Name != "" {
		set["name"] = login.Name
	}
	users := s.db.Collection(collUsers)

	if login.GoogleID != "" {
		var doc userDoc
		err := users.FindOneAndUpdate(ctx,
			bson.M{"googleId": login.GoogleID},
			bson.M{"$set": set},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&doc)
		switch {
		case err == nil:
			return doc.toUser(), false, nil
		case mongo.IsDuplicateKeyError(err):
			return store.User{}, false, store.ErrEmailTaken
		case !errors.Is(err, mongo.ErrNoDocuments):
			return store.User{}, false, fmt.Errorf("update user: %w", err)
		}
	}

	res, err := users.UpdateOne(ctx,
		bson.M{"email": login.Email},
		bson.M{
			"$set": set,
			"$setOnInsert": bson.M{
				"googleId":  login.GoogleID,
				"role":      string(store.RoleUser),
				"createdAt": now,
			},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return store.User{}, false, fmt.Errorf("upsert user: %w", err)
	}

	var doc userDoc
	if err := users.FindOne(ctx, bson.M{"email": login.Email}).Decode(&doc); err != nil {
		return store.User{}, false, fmt.Errorf("reload user: %w", err)
	}
	return doc.toUser(), res.UpsertedCount == 1, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]store.User, error) {
	cur, err := s.db.Collection(collUsers).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	out := make([]store.User, len(docs))
	for i, d := range docs {
		out[i] = d.toUser()
	}
	return out, nil
}

func (s *Store) SetUserRole(ctx context.Context, email string, role store.Role) error {
	res, err := s.db.Collection(collUsers).UpdateOne(ctx,
		bson.M{"email": email},
		bson.M{"$set": bson.M{"role": string(role)}},
	)
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	n, err := s.db.Collection(collUsers).CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func (s *Store) ListModels(ctx context.Context) ([]store.Model, error) {
	cur, err := s.db.Collection(collModels).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find models: %w", err)
	}
	var docs []modelDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	out := make([]store.Model, len(docs))
	for i, d := range docs {
		out[i] = d.toModel()
	}
	return out, nil
}

func (s *Store) CreateModel(ctx context.Context, m store.Model) (store.Model, error) {
	m = store.NormalizeModel(m, s.now().UTC())
	doc := modelDoc{
		Name:          m.Name,
		Description:   m.Description,
		Type:          m.Kind,
		Endpoint:      m.Endpoint,
		ProviderModel: m.ProviderModel,
		Status:        string(m.Status),
		Config: modelConfigDoc{
			Temperature: m.Config.Temperature,
			MinP:        m.Config.MinP,
			MaxTokens:   m.Config.MaxTokens,
		},
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	res, err := s.db.Collection(collModels).InsertOne(ctx, doc)
	if err != nil {
		return store.Model{}, fmt.Errorf("insert model: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		doc.ID = oid
	}
	return doc.toModel(), nil
}

func (s *Store) UpdateModelConfig(ctx context.Context, id string, cfg store.ModelConfig) error {
	return s.updateModel(ctx, id, bson.M{
		"config": modelConfigDoc{Temperature: cfg.Temperature, MinP: cfg.MinP, MaxTokens: cfg.MaxTokens},
	})
}

func (s *Store) SetModelStatus(ctx context.Context, id string, status store.ModelStatus) error {
	return s.updateModel(ctx, id, bson.M{"status": string(status)})
}

func (s *Store) updateModel(ctx context.Context, id string, set bson.M) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	set["updatedAt"] = s.now().UTC()
	res, err := s.db.Collection(collModels).UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("update model: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CountActiveModels(ctx context.Context) (int64, error) {
	n, err := s.db.Collection(collModels).CountDocuments(ctx, bson.M{"status": string(store.ModelActive)})
	if err != nil {
		return 0, fmt.Errorf("count models: %w", err)
	}
	return n, nil
}

func (s *Store) GetAdmin(ctx context.Context, username string) (store.Admin, error) {
	var doc adminDoc
	if err := s.db.Collection(collAdmins).FindOne(ctx, bson.M{"username": username}).Decode(&doc); err != nil {
		return store.Admin{}, notFound(err)
	}
	return store.Admin{Username: doc.Username, Email: doc.Email, PasswordHash: []byte(doc.Password)}, nil
}

func (s *Store) PutAdmin(ctx context.Context, a store.Admin) error {
	_, err := s.db.Collection(collAdmins).UpdateOne(ctx,
		bson.M{"username": a.Username},
		bson.M{"$set": adminDoc{Username: a.Username, Email: a.Email, Password: string(a.PasswordHash)}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("put admin: %w", err)
	}
	return nil
}
