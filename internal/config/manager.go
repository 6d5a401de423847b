package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ConfigFormat represents supported configuration file formats
type ConfigFormat string

const (
	FormatJSON ConfigFormat = "json"
	FormatYAML ConfigFormat = "yaml"
)

// ChangeEvent represents a configuration change event
type ChangeEvent struct {
	File      string                 `json:"file"`
	Path      string                 `json:"path"`
	Action    string                 `json:"action"` // initial_load, create, modify, delete
	Config    map[string]interface{} `json:"config"`
	Timestamp time.Time              `json:"timestamp"`
}

// ChangeHandler is called when configuration changes
type ChangeHandler func(event ChangeEvent) error

// ConfigManager watches a directory of YAML/JSON files and .rego policies
// and dispatches change handlers. The quality table and the admission
// policy are hot-reloaded through it.
type ConfigManager struct {
	configDir      string
	configs        map[string]map[string]interface{}
	handlers       map[string][]ChangeHandler
	policyHandlers []func() error
	watcher        *fsnotify.Watcher
	started        bool
	stopCh         chan struct{}
	done           sync.WaitGroup
	logger         *zap.Logger
	mu             sync.RWMutex
	watcherMu      sync.Mutex
	settle         time.Duration
}

// NewConfigManager creates a new configuration manager
func NewConfigManager(configDir string, logger *zap.Logger) (*ConfigManager, error) {
	if configDir == "" {
		return nil, fmt.Errorf("config directory cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	info, err := os.Stat(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", configDir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &ConfigManager{
		configDir: configDir,
		configs:   make(map[string]map[string]interface{}),
		handlers:  make(map[string][]ChangeHandler),
		watcher:   watcher,
		stopCh:    make(chan struct{}),
		logger:    logger,
		settle:    50 * time.Millisecond,
	}, nil
}

// Start loads every config file, runs handlers for the initial load, and
// begins watching for changes.
func (cm *ConfigManager) Start(ctx context.Context) error {
	cm.mu.Lock()
	if cm.started {
		cm.mu.Unlock()
		return nil
	}
	cm.mu.Unlock()

	if err := cm.watcher.Add(cm.configDir); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}
	if err := cm.loadAllConfigs(); err != nil {
		return fmt.Errorf("failed to load initial configs: %w", err)
	}

	cm.mu.Lock()
	cm.started = true
	loaded := len(cm.configs)
	cm.mu.Unlock()

	cm.done.Add(1)
	go cm.watchLoop(ctx)

	cm.logger.Info("Configuration manager started",
		zap.String("config_dir", cm.configDir),
		zap.Int("loaded_configs", loaded),
	)
	return nil
}

// Stop stops watching and waits for the watch loop to exit.
func (cm *ConfigManager) Stop() error {
	cm.mu.Lock()
	if !cm.started {
		cm.mu.Unlock()
		return cm.watcher.Close()
	}
	cm.started = false
	close(cm.stopCh)
	cm.mu.Unlock()

	err := cm.watcher.Close()
	cm.done.Wait()
	cm.logger.Info("Configuration manager stopped")
	return err
}

// RegisterHandler registers a change handler for a specific config file
func (cm *ConfigManager) RegisterHandler(filename string, handler ChangeHandler) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.handlers[filename] = append(cm.handlers[filename], handler)
}

// RegisterPolicyHandler registers a handler run when any .rego file changes
func (cm *ConfigManager) RegisterPolicyHandler(handler func() error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.policyHandlers = append(cm.policyHandlers, handler)
}

// GetConfig returns a copy of the current configuration for a file
func (cm *ConfigManager) GetConfig(filename string) (map[string]interface{}, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	config, ok := cm.configs[filename]
	if !ok {
		return nil, false
	}
	return copyMap(config), true
}

// ReloadConfig manually reloads a specific configuration file
func (cm *ConfigManager) ReloadConfig(filename string) error {
	return cm.loadConfigFile(filepath.Join(cm.configDir, filename), "manual_reload")
}

func (cm *ConfigManager) watchLoop(ctx context.Context) {
	defer cm.done.Done()
	defer func() {
		if r := recover(); r != nil {
			cm.logger.Error("Watch loop panicked", zap.Any("panic", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cm.stopCh:
			return
		case event, ok := <-cm.watcher.Events:
			if !ok {
				return
			}
			cm.handleWatchEvent(event)
		case err, ok := <-cm.watcher.Errors:
			if !ok {
				return
			}
			cm.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

func (cm *ConfigManager) handleWatchEvent(event fsnotify.Event) {
	cm.watcherMu.Lock()
	defer cm.watcherMu.Unlock()

	filename := filepath.Base(event.Name)
	isConfig := isConfigFile(event.Name)
	isPolicy := isPolicyFile(event.Name)
	if !isConfig && !isPolicy {
		return
	}

	var action string
	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		action = "create"
	case event.Op&fsnotify.Write == fsnotify.Write:
		action = "modify"
	case event.Op&fsnotify.Remove == fsnotify.Remove:
		action = "delete"
	case event.Op&fsnotify.Rename == fsnotify.Rename:
		action = "rename"
	default:
		return
	}

	if action == "delete" || action == "rename" {
		if isConfig {
			cm.handleFileRemoval(filename)
		}
	} else if isConfig {
		// editors often write in several steps
		time.Sleep(cm.settle)
		if err := cm.loadConfigFile(event.Name, action); err != nil {
			cm.logger.Error("Failed to load config file",
				zap.String("file", filename),
				zap.String("action", action),
				zap.Error(err),
			)
		}
	}
	if isPolicy {
		cm.handlePolicyReload(filename, action)
	}
}

func (cm *ConfigManager) loadAllConfigs() error {
	return filepath.WalkDir(cm.configDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != cm.configDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !isConfigFile(path) {
			return nil
		}
		return cm.loadConfigFile(path, "initial_load")
	})
}

func (cm *ConfigManager) loadConfigFile(filePath, action string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	filename := filepath.Base(filePath)
	config := make(map[string]interface{})
	format := detectFormat(filename)
	switch format {
	case FormatJSON:
		err = json.Unmarshal(data, &config)
	case FormatYAML:
		err = yaml.Unmarshal(data, &config)
	}
	if err != nil {
		return fmt.Errorf("failed to parse %s config %s: %w", format, filename, err)
	}

	cm.mu.Lock()
	cm.configs[filename] = config
	handlers := append([]ChangeHandler(nil), cm.handlers[filename]...)
	cm.mu.Unlock()

	cm.notify(handlers, ChangeEvent{
		File:      filename,
		Path:      filePath,
		Action:    action,
		Config:    copyMap(config),
		Timestamp: time.Now(),
	})

	cm.logger.Info("Configuration loaded",
		zap.String("filename", filename),
		zap.String("action", action),
		zap.String("format", string(format)),
	)
	return nil
}

func (cm *ConfigManager) handleFileRemoval(filename string) {
	cm.mu.Lock()
	config := cm.configs[filename]
	delete(cm.configs, filename)
	handlers := append([]ChangeHandler(nil), cm.handlers[filename]...)
	cm.mu.Unlock()

	cm.notify(handlers, ChangeEvent{
		File:      filename,
		Path:      filepath.Join(cm.configDir, filename),
		Action:    "delete",
		Config:    copyMap(config),
		Timestamp: time.Now(),
	})
	cm.logger.Info("Configuration file removed", zap.String("filename", filename))
}

// notify runs handlers in order without holding any locks.
func (cm *ConfigManager) notify(handlers []ChangeHandler, event ChangeEvent) {
	for _, h := range handlers {
		if err := h(event); err != nil {
			cm.logger.Error("Configuration handler error",
				zap.String("filename", event.File),
				zap.String("action", event.Action),
				zap.Error(err),
			)
		}
	}
}

func (cm *ConfigManager) handlePolicyReload(filename, action string) {
	cm.mu.RLock()
	handlers := append([]func() error(nil), cm.policyHandlers...)
	cm.mu.RUnlock()

	cm.logger.Info("Policy file changed, triggering reload",
		zap.String("file", filename),
		zap.String("action", action),
	)
	for _, handler := range handlers {
		if err := handler(); err != nil {
			cm.logger.Error("Policy reload handler failed", zap.String("file", filename), zap.Error(err))
		}
	}
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func isConfigFile(filename string) bool {
	ext := filepath.Ext(filename)
	return ext == ".json" || ext == ".yaml" || ext == ".yml"
}

func isPolicyFile(filename string) bool {
	return filepath.Ext(filename) == ".rego"
}

func detectFormat(filename string) ConfigFormat {
	switch filepath.Ext(filename) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}
