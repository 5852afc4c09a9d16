package protocol

// UserType ranks an account. The rank decides the storage quota and
// whether presence events broadcast site-wide.
type UserType string

const (
	UserTypeMaster  UserType = "Master"
	UserTypeManager UserType = "Manager"
	UserTypeMember  UserType = "Member"
	UserTypeUser    UserType = "User"
	UserTypeVisitor UserType = "Visitor"
)

// UserTypes lists every rank, highest first.
var UserTypes = []UserType{
	UserTypeMaster,
	UserTypeManager,
	UserTypeMember,
	UserTypeUser,
	UserTypeVisitor,
}

// ParseUserType matches a rank name, case-sensitively.
func ParseUserType(s string) (UserType, bool) {
	for _, t := range UserTypes {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

const gib = 1 << 30

// MaxStorage returns the storage quota in bytes for the user type.
func (t UserType) MaxStorage() uint64 {
	switch t {
	case UserTypeMaster:
		return 1000 * gib
	case UserTypeManager:
		return 100 * gib
	case UserTypeMember:
		return 10 * gib
	case UserTypeUser:
		return 1 * gib
	default:
		return 0
	}
}

// IsManager reports whether presence events for this user type
// broadcast to every connected client.
func (t UserType) IsManager() bool {
	return t == UserTypeManager || t == UserTypeMaster
}

// FileListColumns are the directory-listing columns clients may order by.
var FileListColumns = []string{"name", "size", "create_t", "access_t", "modify_t"}

// FileListPathConfig is the per-directory listing preference.
type FileListPathConfig struct {
	OrderBy  string   `json:"order_by"`
	OrderAsc bool     `json:"order_asc"`
	Columns  []string `json:"columns"`
}

// FileListConfig maps a directory path to its listing preference.
type FileListConfig map[string]FileListPathConfig

// UserConfig is the per-user client configuration persisted in the user
// store and round-tripped through heartbeats.
type UserConfig struct {
	ID             int32          `json:"id"`
	Theme          string         `json:"theme"`
	FileListConfig FileListConfig `json:"filelist_config"`
	WebWorkerNum   int32          `json:"web_worker_num"`
}

// DefaultUserConfig returns the configuration assigned to new accounts.
func DefaultUserConfig() UserConfig {
	columns := make([]string, len(FileListColumns))
	copy(columns, FileListColumns)
	return UserConfig{
		ID:           0,
		Theme:        "dark",
		WebWorkerNum: 4,
		FileListConfig: FileListConfig{
			"/": {
				OrderBy:  columns[0],
				OrderAsc: true,
				Columns:  columns,
			},
		},
	}
}

// FileListElem is one display row of a user's directory listing.
// Size is pre-formatted for display; timestamps are "2006-01-02 15:04:05".
type FileListElem struct {
	Name    string `json:"name"`
	Size    string `json:"size"`
	CreateT string `json:"create_t"`
	AccessT string `json:"access_t"`
	ModifyT string `json:"modify_t"`
}
