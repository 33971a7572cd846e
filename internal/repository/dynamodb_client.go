package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"nyl/internal/domain"
)

const (
	pkPrefixSettings = "SETTINGS#"
	skProvider       = "PROVIDER#"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoStore keeps one device's provider settings in a DynamoDB table. The
// cloud API key is never written here; it belongs in the secret store.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	deviceID  string
	defaults  domain.ProviderConfig
}

// NewDynamoStore creates a settings store for deviceID. defaults is returned
// until the first item is written.
func NewDynamoStore(api dynamodbAPI, tableName, deviceID string, defaults domain.ProviderConfig) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if strings.TrimSpace(deviceID) == "" {
		return nil, errors.New("repository: device id must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName, deviceID: deviceID, defaults: defaults}, nil
}

func (s *DynamoStore) key() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pkPrefixSettings + s.deviceID},
		"SK": &types.AttributeValueMemberS{Value: skProvider},
	}
}

// ProviderConfig reads the settings item with a consistent read so a model
// selection is visible to the very next request.
func (s *DynamoStore) ProviderConfig(ctx context.Context) (domain.ProviderConfig, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.key(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.ProviderConfig{}, fmt.Errorf("repository: ProviderConfig get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return s.defaults, nil
	}
	cfg, err := itemToConfig(out.Item, s.defaults)
	if err != nil {
		return domain.ProviderConfig{}, fmt.Errorf("repository: ProviderConfig decode: %w", err)
	}
	return cfg, nil
}

// SaveSelectedModel stores model in the slot of the given provider.
func (s *DynamoStore) SaveSelectedModel(ctx context.Context, provider domain.Provider, model string) error {
	attr, err := modelAttr(provider)
	if err != nil {
		return err
	}
	_, err = s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.tableName),
		Key:              s.key(),
		UpdateExpression: aws.String("SET #m = :m, updatedAt = :now"),
		ExpressionAttributeNames: map[string]string{
			"#m": attr,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":m":   &types.AttributeValueMemberS{Value: model},
			":now": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveSelectedModel: %w", err)
	}
	return nil
}

// Put writes the whole settings item, replacing any previous one.
func (s *DynamoStore) Put(ctx context.Context, cfg domain.ProviderConfig) error {
	item := configItem(cfg)
	for k, v := range s.key() {
		item[k] = v
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: Put: %w", err)
	}
	return nil
}

func modelAttr(provider domain.Provider) (string, error) {
	switch provider {
	case domain.ProviderLocal:
		return "localModel", nil
	case domain.ProviderCloud:
		return "cloudModel", nil
	default:
		return "", fmt.Errorf("repository: no model slot for provider %q", provider)
	}
}

func configItem(cfg domain.ProviderConfig) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"aiEnabled":      &types.AttributeValueMemberBOOL{Value: cfg.AIEnabled},
		"activeProvider": &types.AttributeValueMemberS{Value: string(cfg.ActiveProvider)},
		"localEndpoint":  &types.AttributeValueMemberS{Value: cfg.Local.Endpoint},
		"localModel":     &types.AttributeValueMemberS{Value: cfg.Local.SelectedModel},
		"cloudModel":     &types.AttributeValueMemberS{Value: cfg.Cloud.SelectedModel},
		"cloudMaxTokens": &types.AttributeValueMemberN{Value: strconv.FormatInt(cfg.Cloud.MaxTokens, 10)},
		"systemPrompt":   &types.AttributeValueMemberS{Value: cfg.SystemPrompt},
		"updatedAt":      &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
	}
}

// itemToConfig overlays the stored attributes on defaults; absent attributes
// keep their default value.
func itemToConfig(item map[string]types.AttributeValue, defaults domain.ProviderConfig) (domain.ProviderConfig, error) {
	cfg := defaults
	if v, ok := item["aiEnabled"]; ok {
		b, ok := v.(*types.AttributeValueMemberBOOL)
		if !ok {
			return domain.ProviderConfig{}, errors.New("repository: attribute \"aiEnabled\" is not a bool")
		}
		cfg.AIEnabled = b.Value
	}
	if raw, ok, err := optStrAttr(item, "activeProvider"); err != nil {
		return domain.ProviderConfig{}, err
	} else if ok {
		p, err := domain.ParseProvider(raw)
		if err != nil {
			return domain.ProviderConfig{}, err
		}
		cfg.ActiveProvider = p
	}
	for key, dst := range map[string]*string{
		"localEndpoint": &cfg.Local.Endpoint,
		"localModel":    &cfg.Local.SelectedModel,
		"cloudModel":    &cfg.Cloud.SelectedModel,
		"systemPrompt":  &cfg.SystemPrompt,
	} {
		v, ok, err := optStrAttr(item, key)
		if err != nil {
			return domain.ProviderConfig{}, err
		}
		if ok {
			*dst = v
		}
	}
	if _, ok := item["cloudMaxTokens"]; ok {
		n, err := intAttr(item, "cloudMaxTokens")
		if err != nil {
			return domain.ProviderConfig{}, err
		}
		cfg.Cloud.MaxTokens = int64(n)
	}
	return cfg, nil
}

func optStrAttr(item map[string]types.AttributeValue, key string) (string, bool, error) {
	if _, ok := item[key]; !ok {
		return "", false, nil
	}
	s, err := strAttr(item, key)
	if err != nil {
		return "", false, err
	}
	return s, true, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
