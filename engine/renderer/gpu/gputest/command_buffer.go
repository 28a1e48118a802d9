package gputest

import (
	"fmt"

	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type CommandBufferState string

const (
	StateReady     CommandBufferState = "ready"
	StateRecording CommandBufferState = "recording"
	StateRecorded  CommandBufferState = "recorded"
	StateSubmitted CommandBufferState = "submitted"
)

type Command struct {
	Name string
	Args interface{}
}

type BindSetsArgs struct {
	Point    gpu.BindPoint
	Layout   gpu.PipelineLayout
	FirstSet uint32
	Sets     []gpu.DescriptorSet
}

type PushConstantsArgs struct {
	Layout gpu.PipelineLayout
	Stages gpu.ShaderStage
	Offset uint32
	Data   []byte
}

type DrawArgs struct {
	Count, Instances, First uint32
	VertexOffset            int32
	Indexed                 bool
}

type CopyImageArgs struct {
	Src, Dst gpu.Image
	Extent   gpu.Extent3D
}

type CopyBufferArgs struct {
	Src, Dst gpu.Buffer
	Regions  []gpu.BufferCopy
}

type TraceRaysArgs struct {
	Regions              gpu.SBTRegions
	Width, Height, Depth uint32
}

type CopyAccelArgs struct {
	Src, Dst gpu.AccelStructure
	Compact  bool
}

type WriteAccelPropertiesArgs struct {
	Structures []gpu.AccelStructure
	Pool       gpu.QueryPool
	First      uint32
}

// CommandBuffer records commands as named entries in Commands.
type CommandBuffer struct {
	ID       uint64
	Pool     gpu.CommandPool
	State    CommandBufferState
	Commands []Command
	Resets   int
	Freed    bool

	dev *Device
}

func (c *CommandBuffer) record(name string, args interface{}) {
	c.Commands = append(c.Commands, Command{Name: name, Args: args})
}

func (c *CommandBuffer) Begin(oneTimeSubmit bool) error {
	if c.State == StateRecording {
		return fmt.Errorf("gputest: command buffer %d already recording", c.ID)
	}
	c.Commands = nil
	c.State = StateRecording
	return nil
}

func (c *CommandBuffer) End() error {
	if c.State != StateRecording {
		return fmt.Errorf("gputest: command buffer %d not recording", c.ID)
	}
	c.State = StateRecorded
	return nil
}

func (c *CommandBuffer) Reset() error {
	c.Commands = nil
	c.State = StateReady
	c.Resets++
	return nil
}

func (c *CommandBuffer) PipelineBarrier(b gpu.Barriers) { c.record("barrier", b) }

func (c *CommandBuffer) BeginRendering(info gpu.RenderingInfo) { c.record("begin-rendering", info) }
func (c *CommandBuffer) EndRendering()                         { c.record("end-rendering", nil) }
func (c *CommandBuffer) SetViewport(v gpu.Viewport)            { c.record("set-viewport", v) }
func (c *CommandBuffer) SetScissor(r gpu.Rect)                 { c.record("set-scissor", r) }

func (c *CommandBuffer) BindPipeline(point gpu.BindPoint, p gpu.Pipeline) {
	c.record("bind-pipeline", p)
}

func (c *CommandBuffer) BindDescriptorSets(point gpu.BindPoint, layout gpu.PipelineLayout, firstSet uint32, sets []gpu.DescriptorSet) {
	c.record("bind-descriptor-sets", BindSetsArgs{Point: point, Layout: layout, FirstSet: firstSet, Sets: append([]gpu.DescriptorSet(nil), sets...)})
}

func (c *CommandBuffer) BindVertexBuffer(b gpu.Buffer, offset uint64) { c.record("bind-vertex-buffer", b) }

func (c *CommandBuffer) BindIndexBuffer(b gpu.Buffer, offset uint64, typ gpu.IndexType) {
	c.record("bind-index-buffer", b)
}

func (c *CommandBuffer) PushConstants(layout gpu.PipelineLayout, stages gpu.ShaderStage, offset uint32, data []byte) {
	c.record("push-constants", PushConstantsArgs{Layout: layout, Stages: stages, Offset: offset, Data: append([]byte(nil), data...)})
}

func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	c.record("draw", DrawArgs{Count: vertexCount, Instances: instanceCount, First: firstVertex})
}

func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	c.record("draw-indexed", DrawArgs{Count: indexCount, Instances: instanceCount, First: firstIndex, VertexOffset: vertexOffset, Indexed: true})
}

func (c *CommandBuffer) CopyBuffer(src, dst gpu.Buffer, regions []gpu.BufferCopy) {
	c.record("copy-buffer", CopyBufferArgs{Src: src, Dst: dst, Regions: regions})
}

func (c *CommandBuffer) CopyBufferToImage(src gpu.Buffer, dst gpu.Image, layout gpu.ImageLayout, regions []gpu.BufferImageCopy) {
	c.record("copy-buffer-to-image", dst)
}

func (c *CommandBuffer) CopyImage(src gpu.Image, srcLayout gpu.ImageLayout, dst gpu.Image, dstLayout gpu.ImageLayout, aspect gpu.Aspect, extent gpu.Extent3D) {
	c.record("copy-image", CopyImageArgs{Src: src, Dst: dst, Extent: extent})
}

func (c *CommandBuffer) TraceRays(regions gpu.SBTRegions, width, height, depth uint32) {
	c.record("trace-rays", TraceRaysArgs{Regions: regions, Width: width, Height: height, Depth: depth})
}

func (c *CommandBuffer) BuildAccelStructure(info gpu.AccelBuildInfo) { c.record("build-accel", info) }

func (c *CommandBuffer) CopyAccelStructure(src, dst gpu.AccelStructure, compact bool) {
	c.record("copy-accel", CopyAccelArgs{Src: src, Dst: dst, Compact: compact})
}

func (c *CommandBuffer) WriteAccelStructureProperties(structures []gpu.AccelStructure, pool gpu.QueryPool, first uint32) {
	c.record("write-accel-properties", WriteAccelPropertiesArgs{Structures: append([]gpu.AccelStructure(nil), structures...), Pool: pool, First: first})
}

func (c *CommandBuffer) ResetQueryPool(pool gpu.QueryPool, first, count uint32) {
	c.record("reset-query-pool", pool)
}

// Names lists recorded command names in order.
func Names(cmds []Command) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Name
	}
	return out
}

// Filter returns the commands with the given name.
func Filter(cmds []Command, name string) []Command {
	var out []Command
	for _, c := range cmds {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

var _ gpu.CommandBuffer = (*CommandBuffer)(nil)
