package modubot

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/cucumber/godog"
)

var (
	errBDDHookFailed        = errors.New("hook failed on purpose")
	errBDDExpectedSuccess   = errors.New("expected the load to succeed")
	errBDDExpectedFailure   = errors.New("expected the load to fail")
	errBDDUnexpectedModules = errors.New("unexpected loaded modules")
	errBDDPhaseOrder        = errors.New("phase barrier violated")
	errBDDCapability        = errors.New("unexpected capability state")
	errBDDInstance          = errors.New("unexpected module instance")
)

type lifecycleScenario struct {
	catalog *testCatalog
	host    *Host
	err     error
}

func splitNames(list string) []string {
	var out []string
	for _, name := range strings.Split(list, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func (s *lifecycleScenario) aCatalogWithModules(list string) error {
	s.catalog = newTestCatalog()
	for _, name := range splitNames(list) {
		s.catalog.add(name, nil)
	}
	s.host = NewHost(s.catalog.Catalog)
	return nil
}

func (s *lifecycleScenario) theCatalogModuleFailsDuring(name, phase string) error {
	s.catalog.add(name, func(m *testModule) {
		m.fail = map[Phase]error{Phase(phase): errBDDHookFailed}
	})
	return nil
}

func (s *lifecycleScenario) theCatalogModuleDependsOn(name, dep string) error {
	s.catalog.add(name, func(m *testModule) {
		m.deps = []string{dep}
	})
	return nil
}

func (s *lifecycleScenario) iLoadTheModules(list string) error {
	s.err = s.host.LoadModules(context.Background(), specs(splitNames(list)...))
	return nil
}

func (s *lifecycleScenario) theModulesAreLoaded(list string) error {
	if err := s.host.LoadModules(context.Background(), specs(splitNames(list)...)); err != nil {
		return fmt.Errorf("loading %s: %w", list, err)
	}
	return nil
}

func (s *lifecycleScenario) iReloadTheModule(name string) error {
	s.err = s.host.ReloadModule(context.Background(), name)
	return nil
}

func (s *lifecycleScenario) iUnloadTheModule(name string) error {
	s.err = s.host.UnloadModule(context.Background(), name)
	return nil
}

func (s *lifecycleScenario) theLoadShouldSucceed() error {
	if s.err != nil {
		return fmt.Errorf("%w: %w", errBDDExpectedSuccess, s.err)
	}
	return nil
}

func (s *lifecycleScenario) theLoadShouldFailForModuleDuring(name, phase string) error {
	var phaseErr *PhaseError
	if !errors.As(s.err, &phaseErr) {
		return fmt.Errorf("%w: got %v", errBDDExpectedFailure, s.err)
	}
	if phaseErr.Module != name || phaseErr.Phase != Phase(phase) {
		return fmt.Errorf("%w: failed at %s/%s", errBDDExpectedFailure, phaseErr.Module, phaseErr.Phase)
	}
	return nil
}

func (s *lifecycleScenario) theLoadShouldFailToResolve(name string) error {
	var resolveErr *ResolveError
	if !errors.As(s.err, &resolveErr) || resolveErr.Module != name {
		return fmt.Errorf("%w: got %v", errBDDExpectedFailure, s.err)
	}
	return nil
}

func (s *lifecycleScenario) theLoadedModulesShouldBe(list string) error {
	want := splitNames(list)
	if got := s.host.ListModules(); !slices.Equal(got, want) {
		return fmt.Errorf("%w: got %v, want %v", errBDDUnexpectedModules, got, want)
	}
	return nil
}

func (s *lifecycleScenario) noModulesShouldBeLoaded() error {
	if got := s.host.ListModules(); len(got) != 0 {
		return fmt.Errorf("%w: %v", errBDDUnexpectedModules, got)
	}
	return nil
}

func (s *lifecycleScenario) noHooksShouldHaveRun() error {
	if entries := s.catalog.journal.list(); len(entries) != 0 {
		return fmt.Errorf("%w: hooks ran %v", errBDDPhaseOrder, entries)
	}
	return nil
}

func (s *lifecycleScenario) everyHookShouldRunBeforeAny(first, second string) error {
	entries := s.catalog.journal.list()
	lastFirst, firstSecond := -1, len(entries)
	for i, entry := range entries {
		switch {
		case strings.HasSuffix(entry, ":"+first):
			lastFirst = i
		case strings.HasSuffix(entry, ":"+second) && i < firstSecond:
			firstSecond = i
		}
	}
	if lastFirst == -1 || firstSecond == len(entries) || lastFirst > firstSecond {
		return fmt.Errorf("%w: %v", errBDDPhaseOrder, entries)
	}
	return nil
}

func (s *lifecycleScenario) capabilityPublished(ref string, want bool) error {
	namespace, key, _ := strings.Cut(ref, ".")
	if _, ok := s.host.Lookup(namespace, key); ok != want {
		return fmt.Errorf("%w: %s published=%t", errBDDCapability, ref, ok)
	}
	return nil
}

func (s *lifecycleScenario) theCapabilityShouldBePublished(ref string) error {
	return s.capabilityPublished(ref, true)
}

func (s *lifecycleScenario) theCapabilityShouldNotBePublished(ref string) error {
	return s.capabilityPublished(ref, false)
}

func (s *lifecycleScenario) moduleShouldBeInstance(name string, instance int) error {
	record, ok := s.host.Module(name)
	if !ok {
		return fmt.Errorf("%w: %s is not loaded", errBDDInstance, name)
	}
	m, ok := record.Module.(*testModule)
	if !ok || m.instance != int64(instance) {
		return fmt.Errorf("%w: %s is %+v", errBDDInstance, name, record.Module)
	}
	return nil
}

// InitializeLifecycleScenario wires the module lifecycle steps.
func InitializeLifecycleScenario(ctx *godog.ScenarioContext) {
	s := &lifecycleScenario{}

	ctx.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		*s = lifecycleScenario{}
		return ctx, nil
	})

	ctx.Step(`^a catalog with modules "([^"]*)"$`, s.aCatalogWithModules)
	ctx.Step(`^the catalog module "([^"]*)" fails during "([^"]*)"$`, s.theCatalogModuleFailsDuring)
	ctx.Step(`^the catalog module "([^"]*)" depends on "([^"]*)"$`, s.theCatalogModuleDependsOn)
	ctx.Step(`^the modules "([^"]*)" are loaded$`, s.theModulesAreLoaded)

	ctx.Step(`^I load the modules "([^"]*)"$`, s.iLoadTheModules)
	ctx.Step(`^I reload the module "([^"]*)"$`, s.iReloadTheModule)
	ctx.Step(`^I unload the module "([^"]*)"$`, s.iUnloadTheModule)

	ctx.Step(`^the load should succeed$`, s.theLoadShouldSucceed)
	ctx.Step(`^the load should fail for module "([^"]*)" during "([^"]*)"$`, s.theLoadShouldFailForModuleDuring)
	ctx.Step(`^the load should fail to resolve "([^"]*)"$`, s.theLoadShouldFailToResolve)
	ctx.Step(`^the loaded modules should be "([^"]*)"$`, s.theLoadedModulesShouldBe)
	ctx.Step(`^no modules should be loaded$`, s.noModulesShouldBeLoaded)
	ctx.Step(`^no hooks should have run$`, s.noHooksShouldHaveRun)
	ctx.Step(`^every "([^"]*)" hook should run before any "([^"]*)" hook$`, s.everyHookShouldRunBeforeAny)
	ctx.Step(`^the capability "([^"]*)" should be published$`, s.theCapabilityShouldBePublished)
	ctx.Step(`^the capability "([^"]*)" should not be published$`, s.theCapabilityShouldNotBePublished)
	ctx.Step(`^module "([^"]*)" should be instance (\d+)$`, s.moduleShouldBeInstance)
}

func TestModuleLifecycle(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeLifecycleScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/module_lifecycle.feature"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
