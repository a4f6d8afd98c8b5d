package models

import "time"

// Branch metadata keys naming the packages a classification extends.
const (
	MetadataPreviousPackage   = "previousPackage"
	MetadataDependencyPackage = "dependencyPackage"
)

// Identity is the caller on whose behalf a branch write happens.
type Identity struct {
	Username string   `json:"username"`
	Roles    []string `json:"roles,omitempty"`
}

// SystemIdentity is used for writes not triggered by a user.
var SystemIdentity = Identity{Username: "system"}

// BranchLock describes the holder of a branch write lock.
type BranchLock struct {
	Reason   string    `json:"reason"`
	Username string    `json:"username"`
	CommitID string    `json:"commit_id"`
	Since    time.Time `json:"since"`
}
