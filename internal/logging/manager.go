package logging

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// LoggerManager хранит логгеры компонентов (по файлу на компонент)
// и общий для них уровень вывода в консоль
type LoggerManager struct {
	mu      sync.Mutex
	level   LogLevel
	create  func(component string) (*Logger, error)
	loggers map[string]*Logger
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

// NewLoggerManager создаёт менеджер; create строит логгер компонента
func NewLoggerManager(create func(component string) (*Logger, error)) *LoggerManager {
	return &LoggerManager{
		level:   INFO,
		create:  create,
		loggers: make(map[string]*Logger),
	}
}

// GetLoggerManager возвращает глобальный менеджер, пишущий в logs/
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = NewLoggerManager(NewLogger)
	})
	return globalManager
}

// Logger возвращает логгер компонента, создавая его при первом обращении.
// Если файл открыть не удалось, компонент пишет только в консоль.
func (lm *LoggerManager) Logger(component string) *Logger {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if logger, ok := lm.loggers[component]; ok {
		return logger
	}

	logger, err := lm.create(component)
	if err != nil {
		Warn("⚠️ Логгер %s без файла: %v", component, err)
		logger = NewConsoleLogger(component, os.Stdout)
	}
	logger.SetLevel(lm.level)
	lm.loggers[component] = logger
	return logger
}

// SetLevel меняет уровень консоли для всех текущих и будущих логгеров компонентов
func (lm *LoggerManager) SetLevel(level LogLevel) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.level = level
	for _, logger := range lm.loggers {
		logger.SetLevel(level)
	}
}

// CloseAll закрывает файлы всех логгеров и очищает реестр
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var errs []error
	for component, logger := range lm.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close logger %s: %w", component, err))
		}
	}
	lm.loggers = make(map[string]*Logger)
	return errors.Join(errs...)
}

// GetAPILogger возвращает логгер HTTP-запросов (logs/api_<timestamp>.log)
func GetAPILogger() *Logger {
	return GetLoggerManager().Logger("api")
}
