// Package config holds the typed records for namespaces, stored objects,
// columns, named queries, hooks and plugins, and knows how to parse and
// serialise them from the TOML-shaped model files described in the gateway's
// persisted state layout.
package config

import (
	"sync"
)

// Column type tags (Column.ColType).
const (
	ColTypeString   = "string"
	ColTypeInteger  = "integer"
	ColTypeFloat    = "float"
	ColTypeBool     = "bool"
	ColTypeDateTime = "datetime"
	ColTypeDate     = "date"
	ColTypeTime     = "time"
	ColTypeNumeric  = "numeric"
	ColTypeJSON     = "json"
	ColTypeBinary   = "binary"
	ColTypeRelation = "relation"
)

// Generator tags (Column.Generator).
const (
	GenAutoIncrement = "autoincrement"
	GenSnowflakeID   = "snowflakeid"
	GenUUID          = "uuid"
	GenCurUserID     = "cur_user_id"
	GenCurUserName   = "cur_user_name"
	GenCurDateTime   = "cur_datetime"
	GenCurDate       = "cur_date"
	GenCurTime       = "cur_time"
	GenModUserID     = "mod_user_id"
	GenModUserName   = "mod_user_name"
	GenModDateTime   = "mod_datetime"
	GenModDate       = "mod_date"
	GenModTime       = "mod_time"
)

// Desensitisation modes (Column.Desensitize).
const (
	DesensitizeAES     = "aes"
	DesensitizeRSA     = "rsa"
	DesensitizeBase64  = "base64"
	DesensitizeReplace = "replace"
	DesensitizeNull    = "null"
)

// Column describes one field of a stored object.
type Column struct {
	FieldName      string `toml:"field_name" json:"field_name"`
	PropName       string `toml:"prop_name,omitempty" json:"prop_name,omitempty"`
	ColLength      int64  `toml:"col_length,omitempty" json:"col_length,omitempty"`
	ColType        string `toml:"col_type" json:"col_type"`
	PKey           bool   `toml:"pkey,omitempty" json:"pkey,omitempty"`
	Base64         bool   `toml:"base64,omitempty" json:"base64,omitempty"`
	CryptoStore    bool   `toml:"crypto_store,omitempty" json:"crypto_store,omitempty"`
	DetailOnly     bool   `toml:"detail_only,omitempty" json:"detail_only,omitempty"`
	Title          string `toml:"title,omitempty" json:"title,omitempty"`
	Generator      string `toml:"generator,omitempty" json:"generator,omitempty"`
	Validation     string `toml:"validation,omitempty" json:"validation,omitempty"`
	Desensitize    string `toml:"desensitize,omitempty" json:"desensitize,omitempty"`
	Permitted      string `toml:"permitted,omitempty" json:"permitted,omitempty"`
	RelationObject string `toml:"relation_object,omitempty" json:"relation_object,omitempty"`
	RelationField  string `toml:"relation_field,omitempty" json:"relation_field,omitempty"`
	RelationArray  bool   `toml:"relation_array,omitempty" json:"relation_array,omitempty"`
	RelationMiddle string `toml:"relation_middle,omitempty" json:"relation_middle,omitempty"`
}

// IsRelation reports whether the column loads another object.
func (c Column) IsRelation() bool {
	return c.ColType == ColTypeRelation
}

// IsModGenerator reports whether the generator only applies on update.
func (c Column) IsModGenerator() bool {
	switch c.Generator {
	case GenModUserID, GenModUserName, GenModDateTime, GenModDate, GenModTime:
		return true
	default:
		return false
	}
}

// MethodHook is a pre/post/event script bound to one method family.
type MethodHook struct {
	Lang   string `toml:"lang" json:"lang"`
	Script string `toml:"script" json:"script"`
	Before bool   `toml:"before" json:"before"`
	Event  bool   `toml:"event" json:"event"`
}

// Object is the declarative table binding (§3 "Stored object").
type Object struct {
	Name             string       `toml:"name" json:"name"`
	ObjectName       string       `toml:"object_name" json:"object_name"`
	Fields           []Column     `toml:"fields" json:"fields"`
	ObjectType       string       `toml:"object_type,omitempty" json:"object_type,omitempty"`
	SelectSQL        string       `toml:"select_sql,omitempty" json:"select_sql,omitempty"`
	QueryHooks       []MethodHook `toml:"query_hooks,omitempty" json:"query_hooks,omitempty"`
	SelectHooks      []MethodHook `toml:"select_hooks,omitempty" json:"select_hooks,omitempty"`
	InsertHooks      []MethodHook `toml:"insert_hooks,omitempty" json:"insert_hooks,omitempty"`
	UpdateHooks      []MethodHook `toml:"update_hooks,omitempty" json:"update_hooks,omitempty"`
	UpsertHooks      []MethodHook `toml:"upsert_hooks,omitempty" json:"upsert_hooks,omitempty"`
	SaveBatchHooks   []MethodHook `toml:"savebatch_hooks,omitempty" json:"savebatch_hooks,omitempty"`
	DeleteHooks      []MethodHook `toml:"delete_hooks,omitempty" json:"delete_hooks,omitempty"`
	Validation       bool         `toml:"validation,omitempty" json:"validation,omitempty"`
	EnableCache      bool         `toml:"enable_cache,omitempty" json:"enable_cache,omitempty"`
	CacheTime        int64        `toml:"cache_time,omitempty" json:"cache_time,omitempty"`
	ReadPermRoles    []string     `toml:"read_perm_roles,omitempty" json:"read_perm_roles,omitempty"`
	WritePermRoles   []string     `toml:"write_perm_roles,omitempty" json:"write_perm_roles,omitempty"`
	DataPermission   bool         `toml:"data_permission,omitempty" json:"data_permission,omitempty"`
	PermissionField  string       `toml:"permission_field,omitempty" json:"permission_field,omitempty"`
	RelativeTable    string       `toml:"relative_table,omitempty" json:"relative_table,omitempty"`
	RelativeField    string       `toml:"relative_field,omitempty" json:"relative_field,omitempty"`
	UserField        string       `toml:"user_field,omitempty" json:"user_field,omitempty"`

	fieldMapOnce sync.Once
	fieldMap     map[string]Column
}

// DefaultCacheTime is used when an object enables caching but declares no
// explicit cache_time (spec §3 "Cache entry").
const DefaultCacheTime = 30

// EffectiveCacheTime returns the object's cache TTL in seconds.
func (o *Object) EffectiveCacheTime() int64 {
	if o.CacheTime > 0 {
		return o.CacheTime
	}
	return DefaultCacheTime
}

// FieldsMap memoises a field_name -> Column index for the object's lifetime.
func (o *Object) FieldsMap() map[string]Column {
	o.fieldMapOnce.Do(func() {
		o.fieldMap = make(map[string]Column, len(o.Fields))
		for _, c := range o.Fields {
			o.fieldMap[c.FieldName] = c
		}
	})
	return o.fieldMap
}

// ContainsField reports whether the object declares the given field.
func (o *Object) ContainsField(name string) bool {
	_, ok := o.FieldsMap()[name]
	return ok
}

// GetColumn returns the column named field. When excludeRelation is true,
// relation columns are not returned (used when building plain SQL lists).
func (o *Object) GetColumn(field string, excludeRelation bool) (Column, bool) {
	c, ok := o.FieldsMap()[field]
	if !ok {
		return Column{}, false
	}
	if excludeRelation && c.IsRelation() {
		return Column{}, false
	}
	return c, true
}

// KeyColumns returns the object's primary-key columns, in declaration order.
func (o *Object) KeyColumns() []Column {
	var keys []Column
	for _, c := range o.Fields {
		if c.PKey {
			keys = append(keys, c)
		}
	}
	return keys
}

// HasPermission evaluates the object's role-based read/write permission
// lists against the caller's method and roles (spec §3 "Stored object").
func (o *Object) HasPermission(isWrite bool, roles []string) bool {
	if len(o.ReadPermRoles) == 0 && len(o.WritePermRoles) == 0 {
		return true
	}
	if isWrite {
		if len(o.WritePermRoles) == 0 {
			return true
		}
		return anyRoleMatches(o.WritePermRoles, roles)
	}
	if len(o.ReadPermRoles) == 0 {
		return true
	}
	return anyRoleMatches(o.ReadPermRoles, roles)
}

func anyRoleMatches(required, held []string) bool {
	set := make(map[string]struct{}, len(held))
	for _, r := range held {
		set[r] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

// Query is a parameterised named SQL query (spec §3 "Named query").
type Query struct {
	Name           string       `toml:"name" json:"name"`
	Body           string       `toml:"body" json:"body"`
	CountQuery     string       `toml:"count_query,omitempty" json:"count_query,omitempty"`
	Params         []Column     `toml:"params,omitempty" json:"params,omitempty"`
	Fields         []Column     `toml:"fields,omitempty" json:"fields,omitempty"`
	ReadPermRoles  []string     `toml:"read_perm_roles,omitempty" json:"read_perm_roles,omitempty"`
	WritePermRoles []string     `toml:"write_perm_roles,omitempty" json:"write_perm_roles,omitempty"`
	EnableCache    bool         `toml:"enable_cache,omitempty" json:"enable_cache,omitempty"`
	CacheTime      int64        `toml:"cache_time,omitempty" json:"cache_time,omitempty"`
	Hooks          []MethodHook `toml:"hooks,omitempty" json:"hooks,omitempty"`

	fieldMapOnce sync.Once
	fieldMap     map[string]Column
}

// EffectiveCacheTime mirrors Object.EffectiveCacheTime for named queries.
func (q *Query) EffectiveCacheTime() int64 {
	if q.CacheTime > 0 {
		return q.CacheTime
	}
	return DefaultCacheTime
}

// FieldsMap memoises field_name -> Column for the declared result columns.
func (q *Query) FieldsMap() map[string]Column {
	q.fieldMapOnce.Do(func() {
		q.fieldMap = make(map[string]Column, len(q.Fields))
		for _, c := range q.Fields {
			q.fieldMap[c.FieldName] = c
		}
	})
	return q.fieldMap
}

// HasPermission mirrors Object.HasPermission for named queries. Queries are
// never "write methods" in the URI sense, so only read roles are checked.
func (q *Query) HasPermission(roles []string) bool {
	if len(q.ReadPermRoles) == 0 {
		return true
	}
	return anyRoleMatches(q.ReadPermRoles, roles)
}

// PluginDef is a plugin's configuration record inside a namespace file.
type PluginDef struct {
	Name     string `toml:"name" json:"name"`
	Protocol string `toml:"protocol" json:"protocol"`
	Config   string `toml:"config" json:"config"`
	Enable   bool   `toml:"enable" json:"enable"`
}

// Namespace is a loaded tenant: its database, crypto material, cache and the
// objects/queries/plugins it owns (spec §3 "Namespace").
type Namespace struct {
	Name           string      `toml:"name" json:"name"`
	Filename       string      `toml:"-" json:"-"`
	DBURL          string      `toml:"db_url" json:"db_url"`
	AESKey         string      `toml:"aes_key,omitempty" json:"aes_key,omitempty"`
	AESSalt        string      `toml:"aes_salt,omitempty" json:"aes_salt,omitempty"`
	RSAPublicKey   string      `toml:"rsa_public_key,omitempty" json:"rsa_public_key,omitempty"`
	RSAPrivateKey  string      `toml:"rsa_private_key,omitempty" json:"rsa_private_key,omitempty"`
	RedisURL       string      `toml:"redis_url,omitempty" json:"redis_url,omitempty"`
	RelaxyTimezone bool        `toml:"relaxy_timezone,omitempty" json:"relaxy_timezone,omitempty"`
	Objects        []*Object   `toml:"objects,omitempty" json:"objects,omitempty"`
	Queries        []*Query    `toml:"querys,omitempty" json:"querys,omitempty"`
	Plugins        []*PluginDef `toml:"plugins,omitempty" json:"plugins,omitempty"`
}

// FindObject returns the object registered under name, if any.
func (n *Namespace) FindObject(name string) (*Object, bool) {
	for _, o := range n.Objects {
		if o.Name == name {
			return o, true
		}
	}
	return nil, false
}

// FindQuery returns the named query registered under name, if any.
func (n *Namespace) FindQuery(name string) (*Query, bool) {
	for _, q := range n.Queries {
		if q.Name == name {
			return q, true
		}
	}
	return nil, false
}

// FindPlugin returns the plugin definition registered under name, if any.
func (n *Namespace) FindPlugin(name string) (*PluginDef, bool) {
	for _, p := range n.Plugins {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}
