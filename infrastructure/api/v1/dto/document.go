// Package dto holds the request and response bodies of the v1 API.
package dto

import "github.com/helixml/folio/infrastructure/api/jsonapi"

// DocumentType is the JSON:API resource type of a document.
const DocumentType = "documents"

// DocumentAttributes are the attributes of a document resource.
type DocumentAttributes struct {
	PageCount int              `json:"page_count"`
	Size      int64            `json:"size"`
	UpdatedAt jsonapi.DateTime `json:"updated_at"`
}

// DocumentData is a document resource.
type DocumentData struct {
	Type       string             `json:"type"`
	ID         string             `json:"id"`
	Attributes DocumentAttributes `json:"attributes"`
	Links      *jsonapi.Links     `json:"links,omitempty"`
}

// DocumentResponse is the body of GET /api/v1/documents/{id}.
type DocumentResponse struct {
	Data DocumentData `json:"data"`
}

// DocumentListResponse is the body of GET /api/v1/documents.
type DocumentListResponse struct {
	Data  []DocumentData `json:"data"`
	Meta  *jsonapi.Meta  `json:"meta,omitempty"`
	Links *jsonapi.Links `json:"links,omitempty"`
}
