package services

import (
	"time"
)

type BaseModel struct {
	CreatedAt time.Time `datastore:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `datastore:"updatedAt" json:"updatedAt"`
	Version   int       `datastore:"version" json:"version"` // bumped on every snapshot save
}

type GenID struct {
	BaseModel
	Id        string `datastore:"id"`
	Kind      string `datastore:"kind"`
	ExpiresAt time.Time
}

// A Project groups diagrams.
type Project struct {
	BaseModel
	Id          string `datastore:"id" json:"id"`
	Name        string `datastore:"name" json:"name"`
	Description string `datastore:"description,noindex" json:"description,omitempty"`
}

// Diagram is the catalog entry for a collaboratively edited class diagram.
// The cells themselves live in the diagram's snapshot.
type Diagram struct {
	BaseModel
	Id        string `datastore:"id" json:"id"`
	ProjectId string `datastore:"projectId" json:"projectId,omitempty"`

	/**
	 * Name of the diagram. Also used as the folder name in exported archives.
	 */
	Name string `datastore:"name" json:"name"`

	Description string `datastore:"description,noindex" json:"description,omitempty"`
}
