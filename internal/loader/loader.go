// Package loader 读写批处理文件：司机与订单数据、候选方案、方案记录与最终结果
package loader

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/paiban/allocator/internal/intake"
	"github.com/paiban/allocator/pkg/errors"
	"github.com/paiban/allocator/pkg/logger"
	"github.com/paiban/allocator/pkg/model"
)

// LoadDrivers 读取司机文件，支持数组或 {"drivers": [...]} 形式
func LoadDrivers(path string) ([]model.Driver, error) {
	var drivers []model.Driver
	if err := loadList(path, "drivers", &drivers); err != nil {
		return nil, err
	}
	return drivers, nil
}

// LoadOrders 读取订单文件，支持数组或 {"orders": [...]} 形式
func LoadOrders(path string) ([]model.Order, error) {
	var orders []model.Order
	if err := loadList(path, "orders", &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// LoadData 读取司机与订单
func LoadData(driversPath, ordersPath string) ([]model.Driver, []model.Order, error) {
	drivers, err := LoadDrivers(driversPath)
	if err != nil {
		return nil, nil, err
	}
	orders, err := LoadOrders(ordersPath)
	if err != nil {
		return nil, nil, err
	}

	logger.Info().
		Int("drivers", len(drivers)).
		Int("orders", len(orders)).
		Msg("数据加载完成")
	return drivers, orders, nil
}

func loadList(path, key string, dest interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NotFound("文件", path).WithCause(err)
		}
		return errors.Wrap(err, errors.CodeStorageError, "读取文件失败").WithField("path", path)
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var wrapped map[string]json.RawMessage
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return errors.Wrap(err, errors.CodeInvalidInput, "解析文件失败").WithField("path", path)
		}
		inner, ok := wrapped[key]
		if !ok {
			return errors.InvalidInput(key, "文件中缺少 "+key+" 字段").WithField("path", path)
		}
		data = inner
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return errors.Wrap(err, errors.CodeInvalidInput, "解析文件失败").WithField("path", path)
	}
	return nil
}

// LoadProposals 读取方案文件，来源名取文件名；目录则读取其中全部 .json 文件
func LoadProposals(paths ...string) ([]model.Proposal, error) {
	files, err := expandPaths(paths)
	if err != nil {
		return nil, err
	}

	proposals := make([]model.Proposal, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeStorageError, "读取方案文件失败").WithField("path", file)
		}
		source := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		proposals = append(proposals, intake.Decode(source, data))
	}
	return proposals, nil
}

func expandPaths(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, errors.NotFound("方案路径", p)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}

		matches, err := filepath.Glob(filepath.Join(p, "*.json"))
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeStorageError, "列出方案文件失败")
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}
	return files, nil
}
