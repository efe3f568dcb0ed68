// Package defaults ships the built-in content library role and action
// catalog. Deployments extend or override it with their own bundle files;
// the built-in bundle gives a fresh install a working policy set.
package defaults

import (
	"github.com/ymiyake/themis/internal/entities"
)

// Content library actions.
const (
	ViewLibrary             = "view_library"
	ManageLibraryTags       = "manage_library_tags"
	DeleteLibrary           = "delete_library"
	EditLibraryContent      = "edit_library_content"
	PublishLibraryContent   = "publish_library_content"
	ReuseLibraryContent     = "reuse_library_content"
	ViewLibraryTeam         = "view_library_team"
	ManageLibraryTeam       = "manage_library_team"
	CreateLibraryCollection = "create_library_collection"
	EditLibraryCollection   = "edit_library_collection"
	DeleteLibraryCollection = "delete_library_collection"
)

// Content library roles.
const (
	LibraryAdmin       = "library_admin"
	LibraryAuthor      = "library_author"
	LibraryContributor = "library_contributor"
	LibraryUser        = "library_user"
)

// BundleVersion identifies the built-in bundle. Bumped whenever the catalog
// below changes; the rule store treats a changed catalog under the same
// version as an immutability violation.
const BundleVersion = "builtin-1"

// RootScope is the scope the built-in role rules attach to. Hierarchy feeds
// are expected to chain library scopes up to it.
const RootScope = "instance"

// RolePermissions maps each built-in role to the actions it allows on
// library objects.
var RolePermissions = map[string][]string{
	LibraryAdmin: {
		ViewLibrary,
		ManageLibraryTags,
		DeleteLibrary,
		EditLibraryContent,
		PublishLibraryContent,
		ReuseLibraryContent,
		ViewLibraryTeam,
		ManageLibraryTeam,
		CreateLibraryCollection,
		EditLibraryCollection,
		DeleteLibraryCollection,
	},
	LibraryAuthor: {
		ViewLibrary,
		ManageLibraryTags,
		EditLibraryContent,
		PublishLibraryContent,
		ReuseLibraryContent,
		ViewLibraryTeam,
		CreateLibraryCollection,
		EditLibraryCollection,
		DeleteLibraryCollection,
	},
	LibraryContributor: {
		ViewLibrary,
		ManageLibraryTags,
		EditLibraryContent,
		ReuseLibraryContent,
		ViewLibraryTeam,
		CreateLibraryCollection,
		EditLibraryCollection,
		DeleteLibraryCollection,
	},
	LibraryUser: {
		ViewLibrary,
		ReuseLibraryContent,
		ViewLibraryTeam,
	},
}

// roleOrder fixes the bundle row order so the bundle checksum is stable
// across processes.
var roleOrder = []string{LibraryAdmin, LibraryAuthor, LibraryContributor, LibraryUser}

// Bundle builds the built-in static bundle: one allow rule per (role, action)
// pair, attached to the root scope, covering all library objects.
func Bundle() *entities.PolicyBundle {
	var rules []*entities.Rule
	for _, role := range roleOrder {
		for _, action := range RolePermissions[role] {
			rules = append(rules, &entities.Rule{
				Type:    entities.RuleTypePermission,
				Subject: entities.RoleSubject(role),
				Action:  action,
				Object:  "lib:*",
				Scope:   RootScope,
				Effect:  entities.EffectAllow,
				Origin:  entities.OriginStatic,
			})
		}
	}
	return &entities.PolicyBundle{
		Version: BundleVersion,
		Rules:   rules,
	}
}
