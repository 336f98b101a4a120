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

package leadflow

import (
	"context"
	"fmt"

	"github.com/oriphiel-hr/leadflow/internal/search"
	"github.com/typesense/typesense-go/typesense/api"
)

// Search performs a search on the specified collection using the provided query parameters.
func (l *Leadflow) Search(ctx context.Context, collection string, query *api.SearchCollectionParams) (*api.SearchResult, error) {
	if l.search == nil {
		return nil, fmt.Errorf("search is not configured")
	}
	if !search.IsCollection(collection) {
		return nil, fmt.Errorf("unknown collection: %s", collection)
	}
	return l.search.Search(ctx, collection, query)
}
