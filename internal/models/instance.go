package models

import "time"

// AppInstance mirrors one deployment of an application. The deployment id is
// the instance name itself, already normalized on creation.
type AppInstance struct {
	ID          uint   `gorm:"primary_key" json:"-"`
	Name        string `gorm:"unique_index;size:50" json:"name"`
	Description string `gorm:"size:256" json:"description"`
	Owner       string `gorm:"index;size:50" json:"owner"`

	AppID uint        `json:"-"`
	App   Application `gorm:"foreignkey:AppID" json:"app"`

	// LastExecution holds the orchestrator id of the most recent workflow
	// run against this deployment. Empty until the install workflow starts.
	LastExecution string `gorm:"size:50" json:"last_execution"`

	Created  time.Time `json:"created"`
	Included time.Time `json:"included"`
	Updated  time.Time `json:"updated"`
	IsNew    bool      `json:"is_new"`
}

// CreateDeploymentID derives the orchestrator deployment id from a display
// name, same normalization as blueprint ids.
func CreateDeploymentID(name string) string {
	return CreateBlueprintID(name)
}

// DeploymentID returns the orchestrator-side id of this instance.
func (i *AppInstance) DeploymentID() string {
	return i.Name
}
