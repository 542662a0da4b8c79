package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bobg/subcmd"

	"github.com/dtroode/pastedb/internal/model"
)

type dbCommands struct {
	*Router
}

func (r *Router) dbCmd(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usagef("db requires an operation")
	}
	return subcmd.Run(ctx, dbCommands{r}, args)
}

func (c dbCommands) Subcmds() subcmd.Map {
	return subcmd.Commands(
		"create", c.create, subcmd.Params(
			"metadata", subcmd.String, "", "JSON object of string metadata",
		),
		"read", c.read, nil,
		"update", c.update, subcmd.Params(
			"metadata", subcmd.String, "", "JSON object of string metadata, previous metadata is kept when empty",
		),
		"delete", c.delete, nil,
		"list_keys", c.listKeys, nil,
		"search", c.search, subcmd.Params(
			"field", subcmd.String, "", "match only this top-level field",
		),
		"count", c.count, nil,
		"backup", c.backup, nil,
		"info", c.info, nil,
		"test", c.test, nil,
	)
}

type keyResult struct {
	Success bool   `json:"success"`
	Key     string `json:"key"`
	PasteID string `json:"paste_id,omitempty"`
}

func (c dbCommands) create(ctx context.Context, metaJSON string, args []string) error {
	if len(args) < 2 {
		return usagef("create requires key and data")
	}

	key := args[0]
	data, metadata, err := parsePayload(args[1], metaJSON)
	if err != nil {
		return err
	}

	id, err := c.db.Create(ctx, key, data, metadata)
	if err != nil {
		return err
	}
	return c.write(keyResult{Success: true, Key: key, PasteID: id})
}

func (c dbCommands) read(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return usagef("read requires key")
	}

	key := args[0]
	rec, err := c.db.Read(ctx, key)
	if err != nil {
		return err
	}
	if rec != nil && strings.HasPrefix(key, model.UserKeyPrefix) {
		rec.Data = redactUser(rec.Data)
	}
	// A missing record prints null.
	return c.write(rec)
}

// redactUser drops password material from a stored user document.
func redactUser(data model.Document) model.Document {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return data
	}
	delete(fields, "password_hash")
	delete(fields, "password_salt")
	redacted, err := model.NewDocument(fields)
	if err != nil {
		return data
	}
	return redacted
}

func (c dbCommands) update(ctx context.Context, metaJSON string, args []string) error {
	if len(args) < 2 {
		return usagef("update requires key and data")
	}

	key := args[0]
	data, metadata, err := parsePayload(args[1], metaJSON)
	if err != nil {
		return err
	}

	ok, err := c.db.Update(ctx, key, data, metadata)
	if err != nil {
		return err
	}
	return c.write(keyResult{Success: ok, Key: key})
}

func (c dbCommands) delete(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return usagef("delete requires key")
	}

	key := args[0]
	ok, err := c.db.Delete(ctx, key)
	if err != nil {
		return err
	}
	return c.write(keyResult{Success: ok, Key: key})
}

func (c dbCommands) listKeys(ctx context.Context, _ []string) error {
	keys, err := c.db.ListKeys(ctx)
	if err != nil {
		return err
	}
	if keys == nil {
		keys = []string{}
	}
	return c.write(keys)
}

func (c dbCommands) search(ctx context.Context, field string, args []string) error {
	if len(args) < 1 {
		return usagef("search requires query")
	}

	keys, err := c.db.Search(ctx, args[0], field)
	if err != nil {
		return err
	}
	return c.write(keys)
}

func (c dbCommands) count(ctx context.Context, _ []string) error {
	n, err := c.db.Count(ctx)
	if err != nil {
		return err
	}
	return c.write(n)
}

type backupResult struct {
	Success   bool   `json:"success"`
	BackupID  string `json:"backup_id"`
	BackupURL string `json:"backup_url"`
	Filename  string `json:"filename,omitempty"`
}

func (c dbCommands) backup(ctx context.Context, args []string) error {
	var name string
	if len(args) > 0 {
		name = args[0]
	}

	id, err := c.db.Backup(ctx, name)
	if err != nil {
		return err
	}
	info, err := c.db.Info(ctx)
	if err != nil {
		return err
	}
	return c.write(backupResult{
		Success:   true,
		BackupID:  id,
		BackupURL: info.BackendURL + "/" + id,
		Filename:  name,
	})
}

func (c dbCommands) info(ctx context.Context, _ []string) error {
	info, err := c.db.Info(ctx)
	if err != nil {
		return err
	}
	return c.write(info)
}

type testResult struct {
	Success     bool   `json:"success"`
	Service     string `json:"service"`
	ServiceURL  string `json:"service_url"`
	TestPasteID string `json:"test_paste_id"`
	Message     string `json:"message,omitempty"`
}

func (c dbCommands) test(ctx context.Context, _ []string) error {
	id, err := c.db.Test(ctx, "test")
	if err != nil {
		return err
	}
	info, err := c.db.Info(ctx)
	if err != nil {
		return err
	}
	return c.write(testResult{
		Success:     true,
		Service:     info.Backend,
		ServiceURL:  info.BackendURL,
		TestPasteID: id,
	})
}

func parsePayload(dataJSON, metaJSON string) (model.Document, map[string]string, error) {
	data, err := model.ParseDocument([]byte(dataJSON))
	if err != nil {
		return nil, nil, fmt.Errorf("data: %w", err)
	}

	if metaJSON == "" {
		return data, nil, nil
	}
	var metadata map[string]string
	if err := json.Unmarshal([]byte(metaJSON), &metadata); err != nil {
		return nil, nil, usagef("metadata must be a JSON object of strings: %s", err)
	}
	return data, metadata, nil
}
