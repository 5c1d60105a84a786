package notification

import (
	"context"
	"slices"

	"github.com/MochamaB/FormReporting-sub006/internal/conf"
	"github.com/MochamaB/FormReporting-sub006/internal/datastore/v2/entities"
)

// StaticDirectory serves membership and addresses from configuration. It
// is read-only after construction.
type StaticDirectory struct {
	addresses   map[uint]map[entities.ChannelType]string
	roles       map[string][]uint
	departments map[string][]uint
}

// NewStaticDirectory indexes the configured users.
func NewStaticDirectory(users []conf.DirectoryUser) *StaticDirectory {
	d := &StaticDirectory{
		addresses:   make(map[uint]map[entities.ChannelType]string, len(users)),
		roles:       make(map[string][]uint),
		departments: make(map[string][]uint),
	}
	for _, u := range users {
		book := make(map[entities.ChannelType]string, len(u.Addresses))
		for ch, addr := range u.Addresses {
			book[entities.ChannelType(ch)] = addr
		}
		d.addresses[u.ID] = book
		for _, role := range u.Roles {
			d.roles[role] = append(d.roles[role], u.ID)
		}
		for _, dept := range u.Departments {
			d.departments[dept] = append(d.departments[dept], u.ID)
		}
	}
	return d
}

// ExpandRoleOrDepartment implements MembershipLookup. Unknown ids expand to
// nobody.
func (d *StaticDirectory) ExpandRoleOrDepartment(_ context.Context, targetType, id string) ([]uint, error) {
	switch targetType {
	case entities.TargetRole:
		return slices.Clone(d.roles[id]), nil
	case entities.TargetDepartment:
		return slices.Clone(d.departments[id]), nil
	}
	return nil, nil
}

// Address implements AddressBook.
func (d *StaticDirectory) Address(_ context.Context, userID uint, channel entities.ChannelType) (string, error) {
	return d.addresses[userID][channel], nil
}
