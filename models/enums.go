package models

import "errors"

type ItemKind string

const (
	ItemKindMaterial  ItemKind = "M"
	ItemKindLabor     ItemKind = "L"
	ItemKindEquipment ItemKind = "E"
)

func ParseItemKind(s string) (ItemKind, error) {
	switch s {
	case "M", "Material":
		return ItemKindMaterial, nil
	case "L", "Labor":
		return ItemKindLabor, nil
	case "E", "Equipment":
		return ItemKindEquipment, nil
	}
	return "", errors.New("invalid item kind")
}

// ServiceStatus is informational only: transitions are unrestricted and the
// status never participates in cost computation.
type ServiceStatus string

const (
	ServiceStatusPending    ServiceStatus = "Pending"
	ServiceStatusInProgress ServiceStatus = "InProgress"
	ServiceStatusCompleted  ServiceStatus = "Completed"
)

func ParseServiceStatus(s string) (ServiceStatus, error) {
	switch s {
	case "Pending":
		return ServiceStatusPending, nil
	case "InProgress":
		return ServiceStatusInProgress, nil
	case "Completed":
		return ServiceStatusCompleted, nil
	}
	return "", errors.New("invalid service status")
}

// CascadeOrigin identifies which price table triggered a cascade.
type CascadeOrigin string

const (
	CascadeOriginCatalog CascadeOrigin = "Catalog"
	CascadeOriginProject CascadeOrigin = "Project"
	CascadeOriginRepair  CascadeOrigin = "Repair"
)

type OutboxPublishStatus string

const (
	OutboxPublishStatusPending   OutboxPublishStatus = "Pending"
	OutboxPublishStatusPublished OutboxPublishStatus = "Published"
	OutboxPublishStatusDead      OutboxPublishStatus = "Dead"
)
