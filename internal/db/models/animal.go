// Package models - animal.go defines the Animal listing owned by an association.
package models

import "time"

// Animal is an adoption listing. Listings are removed only when the owning
// association row is hard-deleted (foreign key cascade).
type Animal struct {
	ID            string    `db:"id" json:"id"`
	AssociationID string    `db:"association_id" json:"association_id"`
	Name          string    `db:"name" json:"name"`
	Species       string    `db:"species" json:"species"`
	Breed         string    `db:"breed" json:"breed"`
	Colour        string    `db:"colour" json:"colour"`
	Size          string    `db:"size" json:"size"`
	Description   string    `db:"description" json:"description"`
	City          string    `db:"city" json:"city"`
	Region        string    `db:"region" json:"region"`
	Adopted       bool      `db:"adopted" json:"adopted"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// VisibleStates lists association states whose animals appear in public listings.
// A suspended association keeps its listings visible; a deleted one does not.
var VisibleStates = []AssociationState{StateActive, StateSuspended}

// IsPubliclyVisible applies the listing visibility rule for an animal owned by an
// association in the given state.
func (a *Animal) IsPubliclyVisible(owner AssociationState) bool {
	if a.Adopted {
		return false
	}
	for _, s := range VisibleStates {
		if owner == s {
			return true
		}
	}
	return false
}

// Activity summarises registry activity over a window, plus current totals.
type Activity struct {
	From               time.Time `db:"-" json:"from"`
	To                 time.Time `db:"-" json:"to"`
	Registrations      int       `db:"registrations" json:"registrations"`
	Approvals          int       `db:"approvals" json:"approvals"`
	NewAnimals         int       `db:"new_animals" json:"new_animals"`
	ActiveAssociations int       `db:"active_associations" json:"active_associations"`
	AvailableAnimals   int       `db:"available_animals" json:"available_animals"`
}
