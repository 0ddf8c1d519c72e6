// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package forum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/bureau-foundation/morum/lib/accesstoken"
	"github.com/bureau-foundation/morum/lib/schema"
	"github.com/bureau-foundation/morum/lib/timeline"
	"github.com/bureau-foundation/morum/messaging"
)

// Config configures a Service.
type Config struct {
	Classifier *Classifier
	Catalog    Catalog
	Pipeline   *Pipeline
	Collator   *timeline.Collator
	Issuer     *accesstoken.Issuer

	// Users maps forum usernames to bcrypt password hashes.
	Users map[string]string

	Logger *slog.Logger
}

// Service implements the forum API.
type Service struct {
	classifier *Classifier
	catalog    Catalog
	pipeline   *Pipeline
	collator   *timeline.Collator
	issuer     *accesstoken.Issuer
	users      map[string]string
	logger     *slog.Logger
}

// NewService returns a Service.
func NewService(config Config) *Service {
	service := &Service{
		classifier: config.Classifier,
		catalog:    config.Catalog,
		pipeline:   config.Pipeline,
		collator:   config.Collator,
		issuer:     config.Issuer,
		users:      config.Users,
		logger:     config.Logger,
	}
	if service.logger == nil {
		service.logger = slog.Default()
	}
	return service
}

// unknownUserHash is compared against for unknown usernames so that a
// failed login takes the same time whether or not the user exists.
var unknownUserHash = sync.OnceValue(func() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("unknown user"), bcrypt.DefaultCost)
	if err != nil {
		panic(fmt.Sprintf("forum: hashing placeholder password: %v", err))
	}
	return hash
})

// Login checks a username and password and issues an access token.
func (s *Service) Login(_ context.Context, request LoginRequest) (LoginResponse, error) {
	hash, known := s.users[request.Username]
	if !known {
		bcrypt.CompareHashAndPassword(unknownUserHash(), []byte(request.Password))
		return LoginResponse{}, ErrInvalidLoginCredential
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(request.Password)); err != nil {
		return LoginResponse{}, ErrInvalidLoginCredential
	}
	token, claim, err := s.issuer.Mint(request.Username)
	if err != nil {
		return LoginResponse{}, fmt.Errorf("forum: minting access token: %w", err)
	}
	s.logger.Info("user logged in", "username", request.Username)
	return LoginResponse{AccessToken: token, ExpiresAt: claim.Expiry}, nil
}

// Categories returns the category tree.
func (s *Service) Categories(ctx context.Context) (CategoriesResponse, error) {
	categories, err := s.catalog.Categories(ctx)
	if err != nil {
		return CategoriesResponse{}, err
	}
	return CategoriesResponse{Categories: categories}, nil
}

// Posts lists the posts assigned to a subcategory.
func (s *Service) Posts(ctx context.Context, request PostsRequest) (PostsResponse, error) {
	category, subcategory, err := s.catalog.Lookup(ctx, FormatCategoryID(request.CategoryID))
	if err != nil {
		return PostsResponse{}, err
	}
	rooms, err := s.classifier.ValidRooms(ctx)
	if err != nil {
		return PostsResponse{}, err
	}
	posts := []schema.Post{}
	for _, room := range rooms {
		if subcategory.Matches(room.Category) {
			posts = append(posts, schema.PostFromRoom(room))
		}
	}
	return PostsResponse{Category: category, Subcategory: subcategory, Posts: posts}, nil
}

// Post returns a post with its comments.
func (s *Service) Post(ctx context.Context, request PostRequest) (PostResponse, error) {
	rooms, err := s.classifier.ValidRooms(ctx)
	if err != nil {
		return PostResponse{}, err
	}
	index := slices.IndexFunc(rooms, func(room schema.Room) bool { return room.PostID == request.ID })
	if index < 0 {
		return PostResponse{}, fmt.Errorf("%w: %d", ErrUnknownPost, request.ID)
	}
	room := rooms[index]

	comments, err := s.collator.Comments(ctx, room.RoomID)
	if err != nil {
		if unreachable(err) {
			return PostResponse{}, fmt.Errorf("%w: %d: %w", ErrUnknownPost, request.ID, err)
		}
		return PostResponse{}, err
	}
	if comments == nil {
		comments = []schema.Comment{}
	}
	return PostResponse{Post: schema.PostFromRoom(room), Comments: comments}, nil
}

// NewComment adds a comment as the token's user.
func (s *Service) NewComment(ctx context.Context, request NewCommentRequest) (NewCommentResponse, error) {
	claim, err := s.authenticate(request.AccessToken)
	if err != nil {
		return NewCommentResponse{}, err
	}
	_, err = s.pipeline.NewComment(ctx, NewCommentInput{
		Author:     claim.Username,
		PostID:     request.PostID,
		Markdown:   request.Markdown,
		MutationID: request.MutationID,
	})
	if err != nil {
		return NewCommentResponse{}, err
	}
	return NewCommentResponse{}, nil
}

// NewPost creates a post as the token's user.
func (s *Service) NewPost(ctx context.Context, request NewPostRequest) (NewPostResponse, error) {
	claim, err := s.authenticate(request.AccessToken)
	if err != nil {
		return NewPostResponse{}, err
	}
	result, err := s.pipeline.NewPost(ctx, NewPostInput{
		Author:     claim.Username,
		Title:      request.Title,
		Topic:      request.Topic,
		Markdown:   request.Markdown,
		Category:   request.CategoryID,
		MutationID: request.MutationID,
	})
	if err != nil {
		return NewPostResponse{}, err
	}
	return NewPostResponse{PostID: result.PostID}, nil
}

func (s *Service) authenticate(token string) (accesstoken.Claim, error) {
	if token == "" {
		return accesstoken.Claim{}, ErrInvalidAccessToken
	}
	claim, err := s.issuer.Verify(token)
	if err != nil {
		return accesstoken.Claim{}, fmt.Errorf("%w: %w", ErrInvalidAccessToken, err)
	}
	return claim, nil
}

// unreachable reports whether err means the service cannot read the
// room at all.
func unreachable(err error) bool {
	var matrixErr *messaging.MatrixError
	if !errors.As(err, &matrixErr) {
		return false
	}
	return matrixErr.StatusCode == http.StatusNotFound || matrixErr.StatusCode == http.StatusForbidden
}
