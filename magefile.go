//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Default 默认任务：显示帮助信息
func Default() {
	fmt.Println("cachekit 构建系统")
	fmt.Println("================")
	fmt.Println("可用任务:")
	fmt.Println("  mage build     - 构建二进制文件")
	fmt.Println("  mage test      - 运行所有测试")
	fmt.Println("  mage bench     - 运行基准测试")
	fmt.Println("  mage lint      - 运行代码检查")
	fmt.Println("  mage coverage  - 生成测试覆盖率报告")
	fmt.Println("  mage clean     - 清理构建产物")
}

// Build 构建所有二进制文件
func Build() error {
	mg.Deps(ensureBinDir)

	fmt.Println("构建 cachekit-server ...")
	return sh.Run("go", "build", "-o", filepath.Join("bin", "cachekit-server"),
		"./cmd/cachekit-server")
}

// Test 运行所有测试
func Test() error {
	fmt.Println("运行测试 ...")
	return sh.RunV("go", "test", "-race", "./pkg/...")
}

// Bench 运行基准测试
func Bench() error {
	fmt.Println("运行基准测试 ...")
	return sh.RunV("go", "test", "-bench=.", "-benchmem", "-run=^$", "./pkg/...")
}

// Lint 运行代码检查
func Lint() error {
	fmt.Println("运行 go vet ...")
	if err := sh.RunV("go", "vet", "./..."); err != nil {
		return err
	}

	if _, err := sh.Output("which", "golangci-lint"); err == nil {
		return sh.RunV("golangci-lint", "run", "./...")
	}
	fmt.Println("未找到 golangci-lint，已跳过")
	return nil
}

// Coverage 生成测试覆盖率报告
func Coverage() error {
	mg.Deps(ensureBinDir)

	fmt.Println("生成覆盖率报告 ...")
	if err := sh.RunV("go", "test", "-coverprofile=bin/coverage.out", "./pkg/..."); err != nil {
		return err
	}
	return sh.RunV("go", "tool", "cover", "-html=bin/coverage.out", "-o", "bin/coverage.html")
}

// Clean 清理构建产物
func Clean() error {
	fmt.Println("清理构建产物 ...")
	return os.RemoveAll("bin")
}

func ensureBinDir() error {
	return os.MkdirAll("bin", 0755)
}
