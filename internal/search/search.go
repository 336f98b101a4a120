/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/typesense/typesense-go/typesense"
	"github.com/typesense/typesense-go/typesense/api"
)

const (
	CollectionLeads        = "leads"
	CollectionAssignments  = "queue_assignments"
	CollectionTransactions = "credit_transactions"
)

// CollectionConfig holds configuration for a specific collection.
type CollectionConfig struct {
	Schema     *api.CollectionSchema
	IDField    string
	TimeFields []string
}

var collectionConfigs map[string]CollectionConfig

func init() {
	collectionConfigs = map[string]CollectionConfig{
		CollectionLeads: {
			Schema:     getLeadSchema(),
			IDField:    "lead_id",
			TimeFields: []string{"created_at", "accepted_at"},
		},
		CollectionAssignments: {
			Schema:     getAssignmentSchema(),
			IDField:    "assignment_id",
			TimeFields: []string{"offered_at", "expires_at", "responded_at", "refunded_at"},
		},
		CollectionTransactions: {
			Schema:     getTransactionSchema(),
			IDField:    "transaction_id",
			TimeFields: []string{"created_at"},
		},
	}
}

// IsCollection reports whether name is one of the indexed collections.
func IsCollection(name string) bool {
	_, ok := collectionConfigs[name]
	return ok
}

// TypesenseClient wraps the Typesense client and provides methods to interact with it.
type TypesenseClient struct {
	Client *typesense.Client
}

// NotificationPayload represents the payload structure for notifications, containing the table and data.
type NotificationPayload struct {
	Table string                 `json:"table"`
	Data  map[string]interface{} `json:"data"`
}

// NewTypesenseClient initializes and returns a new Typesense client instance.
func NewTypesenseClient(apiKey string, hosts []string) *TypesenseClient {
	client := typesense.NewClient(
		typesense.WithServer(hosts[0]),
		typesense.WithAPIKey(apiKey),
		typesense.WithConnectionTimeout(5*time.Second),
		typesense.WithCircuitBreakerMaxRequests(50),
		typesense.WithCircuitBreakerInterval(2*time.Minute),
		typesense.WithCircuitBreakerTimeout(1*time.Minute),
	)
	return &TypesenseClient{Client: client}
}

// EnsureCollectionsExist creates any missing collection from its current schema.
func (t *TypesenseClient) EnsureCollectionsExist(ctx context.Context) error {
	for name, config := range collectionConfigs {
		if _, err := t.CreateCollection(ctx, config.Schema); err != nil {
			return fmt.Errorf("failed to create collection %s: %w", name, err)
		}
	}
	return nil
}

// CreateCollection creates a collection in Typesense based on the provided schema.
// If the collection already exists, it will return without error.
func (t *TypesenseClient) CreateCollection(ctx context.Context, schema *api.CollectionSchema) (*api.CollectionResponse, error) {
	resp, err := t.Client.Collections().Create(ctx, schema)
	if err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil, nil
		}
		return nil, err
	}
	return resp, nil
}

// Search performs a search query on a specific collection with the provided search parameters.
func (t *TypesenseClient) Search(ctx context.Context, collection string, searchParams *api.SearchCollectionParams) (*api.SearchResult, error) {
	return t.Client.Collection(collection).Documents().Search(ctx, searchParams)
}

func (t *TypesenseClient) MultiSearch(ctx context.Context, searchRequests api.MultiSearchSearchesParameter) (*api.MultiSearchResult, error) {
	return t.Client.MultiSearch.Perform(ctx, &api.MultiSearchParams{}, searchRequests)
}

// HandleNotification normalizes a row coming from the index queue or a database
// notification and upserts it into the matching collection.
func (t *TypesenseClient) HandleNotification(ctx context.Context, table string, data map[string]interface{}) error {
	config, ok := collectionConfigs[table]
	if !ok {
		return fmt.Errorf("unknown collection: %s", table)
	}

	if err := processMetadata(data); err != nil {
		return err
	}
	ensureSchemaFields(config, data)
	normalizeTimeFields(config, data)

	return t.upsertDocument(ctx, table, data)
}

// processMetadata handles metadata field normalization for object schemas
func processMetadata(data map[string]interface{}) error {
	metaData, ok := data["meta_data"]
	if !ok {
		return nil
	}
	switch v := metaData.(type) {
	case nil:
		data["meta_data"] = make(map[string]interface{})
	case map[string]interface{}:
	case string:
		decoded := make(map[string]interface{})
		if v != "" {
			if err := json.Unmarshal([]byte(v), &decoded); err != nil {
				return fmt.Errorf("failed to decode meta_data: %w", err)
			}
		}
		data["meta_data"] = decoded
	default:
		return fmt.Errorf("unsupported meta_data type %T", metaData)
	}
	return nil
}

// ensureSchemaFields fills required fields with zero values and drops empty optional strings.
func ensureSchemaFields(config CollectionConfig, data map[string]interface{}) {
	optionalFieldMap := make(map[string]bool)
	for _, field := range config.Schema.Fields {
		isOptional := field.Optional != nil && *field.Optional
		if isOptional {
			optionalFieldMap[field.Name] = true
			continue
		}
		if _, ok := data[field.Name]; !ok {
			data[field.Name] = getDefaultValue(field.Type)
		}
	}

	for key, value := range data {
		if !optionalFieldMap[key] {
			continue
		}
		if value == nil {
			delete(data, key)
		} else if strVal, ok := value.(string); ok && strVal == "" {
			delete(data, key)
		}
	}
}

// Postgres row_to_json renders timestamps without a zone.
const pgTimestampLayout = "2006-01-02T15:04:05.999999"

// normalizeTimeFields converts time fields to Unix timestamps
func normalizeTimeFields(config CollectionConfig, data map[string]interface{}) {
	for _, field := range config.TimeFields {
		fieldValue, ok := data[field]
		if !ok {
			continue
		}
		switch v := fieldValue.(type) {
		case time.Time:
			data[field] = v.Unix()
		case *time.Time:
			if v == nil {
				delete(data, field)
			} else {
				data[field] = v.Unix()
			}
		case int64:
		case float64:
			data[field] = int64(v)
		case string:
			if parsed, err := time.Parse(time.RFC3339Nano, v); err == nil {
				data[field] = parsed.Unix()
			} else if parsed, err := time.Parse(pgTimestampLayout, v); err == nil {
				data[field] = parsed.Unix()
			} else {
				logrus.WithField("field", field).Warnf("unparseable timestamp %q, dropping", v)
				delete(data, field)
			}
		default:
			delete(data, field)
		}
	}
}

func getIDField(table string) string {
	if config, ok := collectionConfigs[table]; ok {
		return config.IDField
	}
	return ""
}

// upsertDocument handles the final upsert operation to Typesense
func (t *TypesenseClient) upsertDocument(ctx context.Context, table string, data map[string]interface{}) error {
	if idField := getIDField(table); idField != "" {
		if id, ok := data[idField].(string); ok && id != "" {
			data["id"] = id
		}
	}

	_, err := t.Client.Collection(table).Documents().Upsert(ctx, data)
	if err != nil {
		return fmt.Errorf("failed to index document in Typesense: %w", err)
	}
	return nil
}

// MigrateTypeSenseSchema adds new fields from the latest schema to the existing collection schema in Typesense.
func (t *TypesenseClient) MigrateTypeSenseSchema(ctx context.Context, collectionName string) error {
	collection := t.Client.Collection(collectionName)

	currentSchemaResponse, err := collection.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("failed to retrieve current schema: %w", err)
	}

	currentSchema := &api.CollectionSchema{
		Name:   currentSchemaResponse.Name,
		Fields: currentSchemaResponse.Fields,
	}

	config, ok := collectionConfigs[collectionName]
	if !ok {
		return fmt.Errorf("unknown collection: %s", collectionName)
	}

	for _, field := range compareSchemas(currentSchema, config.Schema) {
		updateSchema := &api.CollectionUpdateSchema{
			Fields: []api.Field{field},
		}
		if _, err := collection.Update(ctx, updateSchema); err != nil {
			return fmt.Errorf("failed to add field %s: %w", field.Name, err)
		}
		logrus.Infof("Added new field %s to collection %s", field.Name, collectionName)
	}

	return nil
}

// compareSchemas returns the fields present in newSchema but not in oldSchema.
func compareSchemas(oldSchema, newSchema *api.CollectionSchema) []api.Field {
	var newFields []api.Field
	oldFieldMap := make(map[string]bool)
	for _, field := range oldSchema.Fields {
		oldFieldMap[field.Name] = true
	}
	for _, field := range newSchema.Fields {
		if !oldFieldMap[field.Name] {
			newFields = append(newFields, field)
		}
	}
	return newFields
}

// getDefaultValue returns the default value for a given field type in Typesense.
func getDefaultValue(fieldType string) interface{} {
	switch fieldType {
	case "string":
		return ""
	case "int32", "int64":
		return int64(0)
	case "float":
		return float64(0)
	case "bool":
		return false
	case "string[]":
		return []string{}
	default:
		return nil
	}
}

func getLeadSchema() *api.CollectionSchema {
	facet := true
	sortBy := "created_at"
	optional := true
	return &api.CollectionSchema{
		Name: CollectionLeads,
		Fields: []api.Field{
			{Name: "lead_id", Type: "string", Facet: &facet},
			{Name: "category", Type: "string", Facet: &facet},
			{Name: "region", Type: "string", Facet: &facet},
			{Name: "status", Type: "string", Facet: &facet},
			{Name: "price", Type: "int64", Facet: &facet},
			{Name: "budget_min", Type: "int64", Facet: &facet},
			{Name: "budget_max", Type: "int64", Facet: &facet},
			{Name: "urgent", Type: "bool", Facet: &facet},
			{Name: "premium", Type: "bool", Facet: &facet},
			{Name: "round", Type: "int32", Facet: &facet},
			{Name: "accepted_by", Type: "string", Facet: &facet, Optional: &optional},
			{Name: "creator_id", Type: "string", Facet: &facet, Optional: &optional},
			{Name: "accepted_at", Type: "int64", Facet: &facet, Optional: &optional},
			{Name: "created_at", Type: "int64", Facet: &facet},
			{Name: "meta_data", Type: "object", Facet: &facet, Optional: &optional},
		},
		DefaultSortingField: &sortBy,
		EnableNestedFields:  &optional,
	}
}

func getAssignmentSchema() *api.CollectionSchema {
	facet := true
	sortBy := "offered_at"
	optional := true
	leadRef := "leads.lead_id"
	return &api.CollectionSchema{
		Name: CollectionAssignments,
		Fields: []api.Field{
			{Name: "assignment_id", Type: "string", Facet: &facet},
			{Name: "lead_id", Type: "string", Facet: &facet, Reference: &leadRef},
			{Name: "partner_id", Type: "string", Facet: &facet},
			{Name: "status", Type: "string", Facet: &facet},
			{Name: "tier", Type: "string", Facet: &facet},
			{Name: "score", Type: "float", Facet: &facet},
			{Name: "attempt", Type: "int32", Facet: &facet},
			{Name: "round", Type: "int32", Facet: &facet},
			{Name: "offered_at", Type: "int64", Facet: &facet},
			{Name: "expires_at", Type: "int64", Facet: &facet},
			{Name: "responded_at", Type: "int64", Facet: &facet, Optional: &optional},
			{Name: "refunded_at", Type: "int64", Facet: &facet, Optional: &optional},
			{Name: "transaction_id", Type: "string", Facet: &facet, Optional: &optional},
		},
		DefaultSortingField: &sortBy,
	}
}

func getTransactionSchema() *api.CollectionSchema {
	facet := true
	sortBy := "created_at"
	optional := true
	return &api.CollectionSchema{
		Name: CollectionTransactions,
		Fields: []api.Field{
			{Name: "transaction_id", Type: "string", Facet: &facet},
			{Name: "account_id", Type: "string", Facet: &facet},
			{Name: "amount", Type: "int64", Facet: &facet},
			{Name: "balance_after", Type: "int64", Facet: &facet},
			{Name: "type", Type: "string", Facet: &facet},
			{Name: "reference", Type: "string", Facet: &facet},
			{Name: "lead_id", Type: "string", Facet: &facet, Optional: &optional},
			{Name: "assignment_id", Type: "string", Facet: &facet, Optional: &optional},
			{Name: "description", Type: "string", Optional: &optional},
			{Name: "created_at", Type: "int64", Facet: &facet},
			{Name: "meta_data", Type: "object", Facet: &facet, Optional: &optional},
		},
		DefaultSortingField: &sortBy,
		EnableNestedFields:  &optional,
	}
}
