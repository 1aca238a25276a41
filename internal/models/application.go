package models

import (
	"strings"
	"time"
)

// Application mirrors one blueprint registered in the orchestrator. The
// remote copy is authoritative; rows here are refreshed by the catalog
// synchronizer.
type Application struct {
	ID                uint   `gorm:"primary_key" json:"-"`
	Name              string `gorm:"unique_index;size:50" json:"name"`
	Description       string `gorm:"size:256" json:"description"`
	MainBlueprintFile string `gorm:"size:50" json:"main_blueprint_file"`
	Owner             string `gorm:"index;size:50" json:"owner"`

	Created  time.Time `json:"created"`
	Included time.Time `json:"included"`
	Updated  time.Time `json:"updated"`

	IsNew        bool `json:"is_new"`
	IsUpdated    bool `json:"is_updated"`
	IsAdvertised bool `json:"is_advertised"`
}

// CreateBlueprintID derives the orchestrator blueprint id from a display
// name: lowercased, whitespace joined with underscores.
func CreateBlueprintID(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "_")
}

// BlueprintID returns the orchestrator-side id of this application.
func (a *Application) BlueprintID() string {
	return CreateBlueprintID(a.Name)
}
