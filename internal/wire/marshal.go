package wire

import "github.com/pkg/errors"

// marshalPayload encodes m (which must match the type expected for t) into wb.
func marshalPayload(wb *writeBuf, t Type, m interface{}) error {
	switch t {
	case TypeHello:
		v := m.(*Hello)
		wb.writeUint16(v.Version)
		wb.writeUint32(v.Flags)
		return wb.writeBytes(v.Capabilities)
	case TypeFileList:
		v := m.(*FileList)
		wb.writeUint32(uint32(len(v.Entries)))
		for i := range v.Entries {
			if err := marshalFileListEntry(wb, &v.Entries[i]); err != nil {
				return err
			}
		}
		return nil
	case TypeFileListAck:
		v := m.(*FileListAck)
		wb.writeUint32(uint32(len(v.Decisions)))
		for _, d := range v.Decisions {
			wb.writeUint32(d.Index)
			wb.writeUint8(uint8(d.Action))
		}
		return nil
	case TypeFileData:
		v := m.(*FileData)
		wb.writeUint32(v.Index)
		wb.writeUint64(v.Offset)
		wb.writeUint8(v.Flags)
		return wb.writeBytes(v.Data)
	case TypeFileDone:
		v := m.(*FileDone)
		wb.writeUint32(v.Index)
		wb.writeUint8(v.Status)
		return wb.writeBytes(v.Checksum)
	case TypeMkdirBatch:
		v := m.(*MkdirBatch)
		wb.writeUint32(uint32(len(v.Paths)))
		for _, p := range v.Paths {
			if err := wb.writeString(p); err != nil {
				return err
			}
		}
		return nil
	case TypeMkdirBatchAck, TypeSymlinkBatchAck:
		return marshalBatchAck(wb, m)
	case TypeSymlinkBatch:
		v := m.(*SymlinkBatch)
		wb.writeUint32(uint32(len(v.Entries)))
		for _, e := range v.Entries {
			if err := wb.writeString(e.Path); err != nil {
				return err
			}
			if err := wb.writeString(e.Target); err != nil {
				return err
			}
		}
		return nil
	case TypeChecksumReq:
		v := m.(*ChecksumReq)
		wb.writeUint32(v.Index)
		wb.writeUint32(v.BlockSize)
		return nil
	case TypeChecksumResp:
		v := m.(*ChecksumResp)
		wb.writeUint32(uint32(len(v.Blocks)))
		for _, b := range v.Blocks {
			wb.writeUint32(b.Index)
			wb.writeUint64(b.Offset)
			wb.writeUint32(b.Size)
			wb.writeUint32(b.Weak)
			if err := wb.writeBytes(b.Strong); err != nil {
				return err
			}
		}
		return nil
	case TypeDeltaData:
		v := m.(*DeltaData)
		wb.writeUint32(v.Index)
		wb.writeUint8(v.Flags)
		wb.writeUint32(uint32(len(v.Ops)))
		for _, op := range v.Ops {
			wb.writeUint8(uint8(op.Kind))
			switch op.Kind {
			case DeltaOpCopy:
				wb.writeUint64(op.Offset)
				wb.writeUint64(op.Size)
			case DeltaOpData:
				if err := wb.writeBytes(op.Data); err != nil {
					return err
				}
			default:
				return errors.Errorf("unknown delta op kind %d", op.Kind)
			}
		}
		return nil
	case TypeError:
		v := m.(*Error)
		wb.writeUint16(v.Code)
		return wb.writeString(v.Message)
	default:
		return errors.Errorf("unknown message type 0x%02x", uint8(t))
	}
}

func marshalFileListEntry(wb *writeBuf, e *FileListEntry) error {
	if err := wb.writeString(e.Path); err != nil {
		return err
	}
	wb.writeUint64(e.Size)
	wb.writeUint64(uint64(e.ModTimeUnixNS))
	wb.writeUint16(e.Mode)
	wb.writeUint8(e.Flags)
	if e.Flags&FlagSymlink != 0 {
		if err := wb.writeString(e.SymlinkTarget); err != nil {
			return err
		}
	}
	wb.writeUint64(e.Inode)
	wb.writeUint32(e.LinkCount)
	return nil
}

func marshalBatchAck(wb *writeBuf, m interface{}) error {
	var created uint32
	var failed []PathError
	switch v := m.(type) {
	case *MkdirBatchAck:
		created, failed = v.Created, v.Failed
	case *SymlinkBatchAck:
		created, failed = v.Created, v.Failed
	}
	wb.writeUint32(created)
	wb.writeUint32(uint32(len(failed)))
	for _, f := range failed {
		if err := wb.writeString(f.Path); err != nil {
			return err
		}
		if err := wb.writeString(f.Error); err != nil {
			return err
		}
	}
	return nil
}

// unmarshalPayload decodes r into m, which must be a pointer to the struct
// type associated with t.
func unmarshalPayload(r *countingReader, t Type, m interface{}) error {
	switch t {
	case TypeHello:
		v := m.(*Hello)
		version, err := r.readUint16()
		if err != nil {
			return err
		}
		flags, err := r.readUint32()
		if err != nil {
			return err
		}
		caps, err := r.readBytes()
		if err != nil {
			return err
		}
		v.Version, v.Flags, v.Capabilities = version, flags, caps
		return nil
	case TypeFileList:
		v := m.(*FileList)
		count, err := r.readUint32()
		if err != nil {
			return err
		}
		entries := make([]FileListEntry, count)
		for i := range entries {
			if err := unmarshalFileListEntry(r, &entries[i]); err != nil {
				return err
			}
		}
		v.Entries = entries
		return nil
	case TypeFileListAck:
		v := m.(*FileListAck)
		count, err := r.readUint32()
		if err != nil {
			return err
		}
		decisions := make([]Decision, count)
		for i := range decisions {
			idx, err := r.readUint32()
			if err != nil {
				return err
			}
			action, err := r.readUint8()
			if err != nil {
				return err
			}
			decisions[i] = Decision{Index: idx, Action: Action(action)}
		}
		v.Decisions = decisions
		return nil
	case TypeFileData:
		v := m.(*FileData)
		idx, err := r.readUint32()
		if err != nil {
			return err
		}
		offset, err := r.readUint64()
		if err != nil {
			return err
		}
		flags, err := r.readUint8()
		if err != nil {
			return err
		}
		data, err := r.readBytes()
		if err != nil {
			return err
		}
		v.Index, v.Offset, v.Flags, v.Data = idx, offset, flags, data
		return nil
	case TypeFileDone:
		v := m.(*FileDone)
		idx, err := r.readUint32()
		if err != nil {
			return err
		}
		status, err := r.readUint8()
		if err != nil {
			return err
		}
		checksum, err := r.readBytes()
		if err != nil {
			return err
		}
		v.Index, v.Status, v.Checksum = idx, status, checksum
		return nil
	case TypeMkdirBatch:
		v := m.(*MkdirBatch)
		count, err := r.readUint32()
		if err != nil {
			return err
		}
		paths := make([]string, count)
		for i := range paths {
			paths[i], err = r.readString()
			if err != nil {
				return err
			}
		}
		v.Paths = paths
		return nil
	case TypeMkdirBatchAck:
		v := m.(*MkdirBatchAck)
		created, failed, err := unmarshalBatchAck(r)
		if err != nil {
			return err
		}
		v.Created, v.Failed = created, failed
		return nil
	case TypeSymlinkBatchAck:
		v := m.(*SymlinkBatchAck)
		created, failed, err := unmarshalBatchAck(r)
		if err != nil {
			return err
		}
		v.Created, v.Failed = created, failed
		return nil
	case TypeSymlinkBatch:
		v := m.(*SymlinkBatch)
		count, err := r.readUint32()
		if err != nil {
			return err
		}
		entries := make([]SymlinkEntry, count)
		for i := range entries {
			path, err := r.readString()
			if err != nil {
				return err
			}
			target, err := r.readString()
			if err != nil {
				return err
			}
			entries[i] = SymlinkEntry{Path: path, Target: target}
		}
		v.Entries = entries
		return nil
	case TypeChecksumReq:
		v := m.(*ChecksumReq)
		idx, err := r.readUint32()
		if err != nil {
			return err
		}
		blockSize, err := r.readUint32()
		if err != nil {
			return err
		}
		v.Index, v.BlockSize = idx, blockSize
		return nil
	case TypeChecksumResp:
		v := m.(*ChecksumResp)
		count, err := r.readUint32()
		if err != nil {
			return err
		}
		blocks := make([]BlockChecksum, count)
		for i := range blocks {
			idx, err := r.readUint32()
			if err != nil {
				return err
			}
			offset, err := r.readUint64()
			if err != nil {
				return err
			}
			size, err := r.readUint32()
			if err != nil {
				return err
			}
			weak, err := r.readUint32()
			if err != nil {
				return err
			}
			strong, err := r.readBytes()
			if err != nil {
				return err
			}
			blocks[i] = BlockChecksum{Index: idx, Offset: offset, Size: size, Weak: weak, Strong: strong}
		}
		v.Blocks = blocks
		return nil
	case TypeDeltaData:
		v := m.(*DeltaData)
		idx, err := r.readUint32()
		if err != nil {
			return err
		}
		flags, err := r.readUint8()
		if err != nil {
			return err
		}
		count, err := r.readUint32()
		if err != nil {
			return err
		}
		ops := make([]DeltaOp, count)
		for i := range ops {
			kindByte, err := r.readUint8()
			if err != nil {
				return err
			}
			kind := DeltaOpKind(kindByte)
			switch kind {
			case DeltaOpCopy:
				offset, err := r.readUint64()
				if err != nil {
					return err
				}
				size, err := r.readUint64()
				if err != nil {
					return err
				}
				ops[i] = DeltaOp{Kind: kind, Offset: offset, Size: size}
			case DeltaOpData:
				data, err := r.readBytes()
				if err != nil {
					return err
				}
				ops[i] = DeltaOp{Kind: kind, Data: data}
			default:
				return errors.Errorf("unknown delta op kind %d", kindByte)
			}
		}
		v.Index, v.Flags, v.Ops = idx, flags, ops
		return nil
	case TypeError:
		v := m.(*Error)
		code, err := r.readUint16()
		if err != nil {
			return err
		}
		message, err := r.readString()
		if err != nil {
			return err
		}
		v.Code, v.Message = code, message
		return nil
	default:
		return errors.Errorf("unknown message type 0x%02x", uint8(t))
	}
}

func unmarshalFileListEntry(r *countingReader, e *FileListEntry) error {
	path, err := r.readString()
	if err != nil {
		return err
	}
	size, err := r.readUint64()
	if err != nil {
		return err
	}
	modTime, err := r.readUint64()
	if err != nil {
		return err
	}
	mode, err := r.readUint16()
	if err != nil {
		return err
	}
	flags, err := r.readUint8()
	if err != nil {
		return err
	}
	var target string
	if flags&FlagSymlink != 0 {
		target, err = r.readString()
		if err != nil {
			return err
		}
	}
	inode, err := r.readUint64()
	if err != nil {
		return err
	}
	linkCount, err := r.readUint32()
	if err != nil {
		return err
	}
	*e = FileListEntry{
		Path:          path,
		Size:          size,
		ModTimeUnixNS: int64(modTime),
		Mode:          mode,
		Flags:         flags,
		SymlinkTarget: target,
		Inode:         inode,
		LinkCount:     linkCount,
	}
	return nil
}

func unmarshalBatchAck(r *countingReader) (uint32, []PathError, error) {
	created, err := r.readUint32()
	if err != nil {
		return 0, nil, err
	}
	count, err := r.readUint32()
	if err != nil {
		return 0, nil, err
	}
	failed := make([]PathError, count)
	for i := range failed {
		path, err := r.readString()
		if err != nil {
			return 0, nil, err
		}
		msg, err := r.readString()
		if err != nil {
			return 0, nil, err
		}
		failed[i] = PathError{Path: path, Error: msg}
	}
	return created, failed, nil
}
